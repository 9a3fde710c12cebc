// Package api serves the world model over HTTP: JSON endpoints for the
// object model and percept input, debug views and a websocket stream of
// model updates.
package api

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/banshee-data/worldmodel/internal/config"
	"github.com/banshee-data/worldmodel/internal/httputil"
	"github.com/banshee-data/worldmodel/internal/monitoring"
	"github.com/banshee-data/worldmodel/internal/transform"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
	"github.com/banshee-data/worldmodel/internal/worldmodel/viz"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server holds the HTTP handlers. Optional parts left nil disable their
// routes.
type Server struct {
	tracker    *tracker.Tracker
	hub        *publish.Hub
	transforms *transform.Buffer
	drawings   *viz.Drawings
	debug      *tracker.DebugLog
	log        *zap.SugaredLogger

	mu       sync.RWMutex
	cfg      *config.Config
	odometry transform.OdometryFrames
}

// Options are the optional collaborators of a Server.
type Options struct {
	Hub        *publish.Hub
	Transforms *transform.Buffer
	Drawings   *viz.Drawings
	Debug      *tracker.DebugLog
	Config     *config.Config
}

func NewServer(t *tracker.Tracker, opts Options) *Server {
	s := &Server{
		tracker:    t,
		hub:        opts.Hub,
		transforms: opts.Transforms,
		drawings:   opts.Drawings,
		debug:      opts.Debug,
		log:        monitoring.Named("api"),
	}
	s.SetConfig(opts.Config)
	return s
}

// SetConfig replaces the configuration shown by /api/config and the
// odometry frame ids.
func (s *Server) SetConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.Empty()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.odometry = transform.OdometryFramesFromConfig(cfg)
}

func (s *Server) config() (*config.Config, transform.OdometryFrames) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.odometry
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(log *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Infof(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the routes. Debug routes of other components are
// attached by the caller.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/objects", s.listObjects)
	mux.HandleFunc("POST /api/objects", s.addObject)
	mux.HandleFunc("GET /api/objects/{id}", s.getObject)
	mux.HandleFunc("PUT /api/objects/{id}/state", s.setObjectState)
	mux.HandleFunc("POST /api/percepts/pose", s.posePercept)
	mux.HandleFunc("POST /api/percepts/image", s.imagePercept)
	mux.HandleFunc("POST /api/syscommand", s.sysCommand)
	mux.HandleFunc("GET /api/config", s.showConfig)

	if s.transforms != nil {
		mux.HandleFunc("POST /api/odometry", s.publishOdometry)
		mux.HandleFunc("GET /api/frames", s.listFrames)
	}
	if s.debug != nil {
		mux.HandleFunc("GET /api/debug/associations", s.showDebug)
		mux.HandleFunc("POST /api/debug/associations", s.toggleDebug)
		mux.HandleFunc("DELETE /api/debug/associations", s.resetDebug)
	}
	if s.drawings != nil {
		mux.HandleFunc("GET /viz/chart", s.drawings.HandleChart)
		mux.HandleFunc("GET /viz/plot", s.drawings.HandlePlot)
		mux.HandleFunc("GET /viz/markers", s.drawings.HandleMarkers)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /api/stream", s.stream)
	}
	return mux
}

// decode reads a JSON request body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(w, r, v); err != nil {
		httputil.BadRequest(w, err.Error())
		return false
	}
	return true
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _ := s.config()
	httputil.WriteJSONOK(w, cfg)
}
