package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/worldmodel/internal/api"
	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/ingest"
	"github.com/banshee-data/worldmodel/internal/monitoring"
	"github.com/banshee-data/worldmodel/internal/rpc"
	"github.com/banshee-data/worldmodel/internal/storage/sqlite"
	"github.com/banshee-data/worldmodel/internal/transform"
	"github.com/banshee-data/worldmodel/internal/version"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/camera"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
	"github.com/banshee-data/worldmodel/internal/worldmodel/viz"
)

var (
	noRecorder   bool
	debugRecords int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the world model service",
	Long: `Run the world model: percepts arrive over gRPC, HTTP and UDP, the object
model is published on the gRPC watch stream and the HTTP websocket, and
every update is recorded in the SQLite database.

The configuration file, when given, is watched and reloaded on change.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noRecorder, "no-recorder", false, "Do not record model updates in the database")
	serveCmd.Flags().IntVar(&debugRecords, "debug-records", 500, "Association debug records kept per kind")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := monitoring.Named("serve")
	log.Infow("starting", "version", version.String(), "config", configPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cameras := camera.NewCache()
	if err := cameras.LoadFiles(cfg.GetCameraCalibrations()); err != nil {
		return errors.Wrap(err, "failed to load camera calibrations")
	}

	transforms := transform.NewBuffer(cfg.GetCacheDuration(), cfg.GetTransformWait())

	ext := newExternalServices()
	defer ext.Close()
	ranging, err := ext.Ranging(ctx, cfg.GetRangingService())
	if err != nil {
		return err
	}

	hub := publish.NewHub(256)
	defer hub.Close()
	drawings := viz.NewDrawings(nil)
	debugLog := tracker.NewDebugLog(debugRecords)

	tr := tracker.New(
		tracker.ConfigFrom(cfg),
		projector.New(projector.SettingsFromConfig(cfg), transforms, ranging),
		tracker.WithPublisher(publish.Multi{hub, drawings}),
		tracker.WithCameras(cameras),
		tracker.WithVerifiers(ext.Verifiers(ctx, cfg.GetVerificationServices())...),
	)
	tr.DebugCollector = debugLog

	g, gctx := errgroup.WithContext(ctx)

	var db *sqlite.DB
	if !noRecorder {
		db, err = sqlite.OpenAndMigrate(cfg.GetDBPath())
		if err != nil {
			return errors.Wrap(err, "failed to open recorder database")
		}
		defer db.Close()
		recorder := sqlite.NewRecorder(db, nil)
		subID, events := hub.Subscribe()
		defer hub.Unsubscribe(subID)
		g.Go(func() error { return recorder.Run(gctx, events) })
	}
	// subscribers started above see the session the first objects belong to
	tr.AnnounceSession()

	var frames atomic.Pointer[transform.OdometryFrames]
	initial := transform.OdometryFramesFromConfig(cfg)
	frames.Store(&initial)

	rpcServer := rpc.NewServer(tr, hub, transforms, initial)
	grpcServer, health := rpc.NewGRPCServer(rpcServer)

	apiServer := api.NewServer(tr, api.Options{
		Hub:        hub,
		Transforms: transforms,
		Drawings:   drawings,
		Debug:      debugLog,
		Config:     cfg,
	})
	mux := apiServer.ServeMux()
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			return errors.Wrap(err, "failed to attach recorder routes")
		}
	}
	httpServer := &http.Server{
		Addr:              cfg.GetHTTPListen(),
		Handler:           api.LoggingMiddleware(monitoring.Named("http"), mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener := ingest.NewListener(ingest.Config{
		Address:   cfg.GetUDPListen(),
		RcvBuf:    1 << 20,
		RateLimit: cfg.GetUDPRateLimit(),
	}, ingest.Dispatcher{
		Tracker: tr,
		Odometry: func(odom worldmodel.Odometry) error {
			return transforms.PublishOdometry(odom, *frames.Load())
		},
	})

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, 500*time.Millisecond)
		if err != nil {
			return err
		}
		defer watcher.Close()
		rangingTarget := cfg.GetRangingService()
		watcher.OnReload(func(next *config.Config) {
			tr.ApplyConfig(next)
			tr.SetVerifiers(ext.Verifiers(ctx, next.GetVerificationServices()))
			transforms.SetDurations(next.GetCacheDuration(), next.GetTransformWait())
			f := transform.OdometryFramesFromConfig(next)
			frames.Store(&f)
			rpcServer.SetOdometryFrames(f)
			apiServer.SetConfig(next)
			listener.SetRateLimit(next.GetUDPRateLimit())
			if next.GetRangingService() != rangingTarget {
				log.Warnw("ranging service changes need a restart", "running", rangingTarget, "configured", next.GetRangingService())
			}
		})
	}

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GetGRPCListen())
		if err != nil {
			return errors.Wrap(err, "failed to listen for gRPC")
		}
		log.Infow("gRPC server listening", "address", lis.Addr().String())
		return rpc.Serve(gctx, grpcServer, health, lis)
	})
	g.Go(func() error {
		log.Infow("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "HTTP server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return listener.Start(gctx) })

	err = g.Wait()
	if err != nil {
		log.Errorw("shutting down after failure", "error", err)
	} else {
		log.Info("shut down")
	}
	return err
}
