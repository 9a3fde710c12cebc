package rpc

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/worldmodel/internal/monitoring"
	"github.com/banshee-data/worldmodel/internal/transform"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/camera"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
)

// WorldModelService is the server side of the world model API.
type WorldModelService interface {
	GetObjectModel(context.Context, *GetObjectModelRequest) (*ObjectModel, error)
	GetObject(context.Context, *GetObjectRequest) (*worldmodel.Object, error)
	SetObjectState(context.Context, *SetObjectStateRequest) (*worldmodel.Object, error)
	AddObject(context.Context, *tracker.AddObjectRequest) (*worldmodel.Object, error)
	HandlePosePercept(context.Context, *worldmodel.PosePercept) (*tracker.Result, error)
	HandleImagePercept(context.Context, *worldmodel.ImagePercept) (*tracker.Result, error)
	PublishOdometry(context.Context, *worldmodel.Odometry) (*Empty, error)
	SysCommand(context.Context, *worldmodel.SysCommand) (*SysCommandResponse, error)
	WatchObjects(*WatchRequest, grpc.ServerStreamingServer[publish.Event]) error
}

// unary builds the method descriptor of a unary call on service S.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(S)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

func wm[Req, Resp any](method string, call func(WorldModelService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return unary(WorldModelServiceName, method, call)
}

var worldModelDesc = grpc.ServiceDesc{
	ServiceName: WorldModelServiceName,
	HandlerType: (*WorldModelService)(nil),
	Methods: []grpc.MethodDesc{
		wm("GetObjectModel", WorldModelService.GetObjectModel),
		wm("GetObject", WorldModelService.GetObject),
		wm("SetObjectState", WorldModelService.SetObjectState),
		wm("AddObject", WorldModelService.AddObject),
		wm("HandlePosePercept", WorldModelService.HandlePosePercept),
		wm("HandleImagePercept", WorldModelService.HandleImagePercept),
		wm("PublishOdometry", WorldModelService.PublishOdometry),
		wm("SysCommand", WorldModelService.SysCommand),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchObjects",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(WorldModelService).WatchObjects(in, &grpc.GenericServerStream[WatchRequest, publish.Event]{ServerStream: stream})
			},
		},
	},
}

// RegisterWorldModelService registers srv on s.
func RegisterWorldModelService(s grpc.ServiceRegistrar, srv WorldModelService) {
	s.RegisterService(&worldModelDesc, srv)
}

// Server implements WorldModelService on top of a tracker.
type Server struct {
	tracker    *tracker.Tracker
	hub        *publish.Hub
	transforms *transform.Buffer
	log        *zap.SugaredLogger

	mu       sync.RWMutex
	odometry transform.OdometryFrames
}

// NewServer creates the service. hub may be nil, in which case
// WatchObjects is unavailable; transforms may be nil, in which case
// PublishOdometry is.
func NewServer(t *tracker.Tracker, hub *publish.Hub, transforms *transform.Buffer, odometry transform.OdometryFrames) *Server {
	return &Server{
		tracker:    t,
		hub:        hub,
		transforms: transforms,
		odometry:   odometry,
		log:        monitoring.Named("rpc"),
	}
}

// SetOdometryFrames replaces the frame ids used to decompose odometry.
func (s *Server) SetOdometryFrames(f transform.OdometryFrames) {
	s.mu.Lock()
	s.odometry = f
	s.mu.Unlock()
}

func (s *Server) odometryFrames() transform.OdometryFrames {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.odometry
}

func (s *Server) GetObjectModel(context.Context, *GetObjectModelRequest) (*ObjectModel, error) {
	session, objects := s.tracker.ModelSnapshot()
	return &ObjectModel{Session: session.String(), Objects: objects}, nil
}

func (s *Server) GetObject(_ context.Context, req *GetObjectRequest) (*worldmodel.Object, error) {
	o, err := s.tracker.GetObject(req.ObjectID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &o, nil
}

func (s *Server) SetObjectState(ctx context.Context, req *SetObjectStateRequest) (*worldmodel.Object, error) {
	o, err := s.tracker.SetObjectState(ctx, req.ObjectID, req.State)
	if err != nil {
		return nil, toStatus(err)
	}
	return &o, nil
}

func (s *Server) AddObject(ctx context.Context, req *tracker.AddObjectRequest) (*worldmodel.Object, error) {
	o, err := s.tracker.AddObject(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &o, nil
}

func (s *Server) HandlePosePercept(ctx context.Context, req *worldmodel.PosePercept) (*tracker.Result, error) {
	res, err := s.tracker.HandlePosePercept(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) HandleImagePercept(ctx context.Context, req *worldmodel.ImagePercept) (*tracker.Result, error) {
	res, err := s.tracker.HandleImagePercept(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) PublishOdometry(_ context.Context, req *worldmodel.Odometry) (*Empty, error) {
	if s.transforms == nil {
		return nil, status.Error(codes.Unimplemented, "no transform buffer")
	}
	if err := s.transforms.PublishOdometry(*req, s.odometryFrames()); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) SysCommand(_ context.Context, req *worldmodel.SysCommand) (*SysCommandResponse, error) {
	return &SysCommandResponse{Handled: s.tracker.HandleSysCommand(*req)}, nil
}

func (s *Server) WatchObjects(req *WatchRequest, stream grpc.ServerStreamingServer[publish.Event]) error {
	if s.hub == nil {
		return status.Error(codes.Unimplemented, "no publication hub")
	}
	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	s.log.Infow("watcher connected", "subscriber", id)

	if req.Snapshot {
		session, objects := s.tracker.ModelSnapshot()
		ev := publish.Event{
			Kind:    publish.KindModel,
			Session: session.String(),
			Model:   objects,
		}
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("watcher disconnected", "subscriber", id)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.Send(&ev); err != nil {
				s.log.Warnw("watch send failed", "subscriber", id, "error", err)
				return err
			}
		}
	}
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, worldmodel.ErrObjectNotFound):
		code = codes.NotFound
	case errors.Is(err, tracker.ErrInvalidRequest),
		errors.Is(err, transform.ErrInvalidTransform):
		code = codes.InvalidArgument
	case errors.Is(err, tracker.ErrAddObjectFailed),
		errors.Is(err, camera.ErrNoCalibration),
		errors.Is(err, camera.ErrInvalidCalibration):
		code = codes.FailedPrecondition
	case errors.Is(err, projector.ErrTransformUnavailable),
		errors.Is(err, projector.ErrRangingUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
