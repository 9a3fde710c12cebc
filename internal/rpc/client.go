package rpc

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/publish"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
)

// Dial creates a plaintext client connection that speaks the JSON codec.
// The connection is established lazily.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(JSON(), grpc.MaxCallRecvMsgSize(maxMsgSize)),
	}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return cc, nil
}

// Probe asks the health service of a connection about service. An empty
// service checks the server as a whole.
func Probe(ctx context.Context, cc grpc.ClientConnInterface, service string) error {
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: service}, JSON())
	if err != nil {
		return errors.Wrapf(err, "health check %q", service)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.Newf("service %q is %s", service, resp.GetStatus())
	}
	return nil
}

// ProbeAndLog probes service and logs when it is not available. External
// services may come up after the world model; calls to them fail until
// they do.
func ProbeAndLog(ctx context.Context, log *zap.SugaredLogger, cc grpc.ClientConnInterface, target, service string) bool {
	if err := Probe(ctx, cc, service); err != nil {
		log.Warnw("service is not (yet) there", "target", target, "service", service, "error", err)
		return false
	}
	log.Infow("service available", "target", target, "service", service)
	return true
}

// Client is the client side of the world model API.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+WorldModelServiceName+"/"+method, in, out, JSON())
}

func (c *Client) GetObjectModel(ctx context.Context) (*ObjectModel, error) {
	out := new(ObjectModel)
	return out, c.invoke(ctx, "GetObjectModel", &GetObjectModelRequest{}, out)
}

func (c *Client) GetObject(ctx context.Context, id string) (*worldmodel.Object, error) {
	out := new(worldmodel.Object)
	return out, c.invoke(ctx, "GetObject", &GetObjectRequest{ObjectID: id}, out)
}

func (c *Client) SetObjectState(ctx context.Context, id string, state worldmodel.State) (*worldmodel.Object, error) {
	out := new(worldmodel.Object)
	return out, c.invoke(ctx, "SetObjectState", &SetObjectStateRequest{ObjectID: id, State: state}, out)
}

func (c *Client) AddObject(ctx context.Context, req tracker.AddObjectRequest) (*worldmodel.Object, error) {
	out := new(worldmodel.Object)
	return out, c.invoke(ctx, "AddObject", &req, out)
}

func (c *Client) HandlePosePercept(ctx context.Context, p worldmodel.PosePercept) (*tracker.Result, error) {
	out := new(tracker.Result)
	return out, c.invoke(ctx, "HandlePosePercept", &p, out)
}

func (c *Client) HandleImagePercept(ctx context.Context, p worldmodel.ImagePercept) (*tracker.Result, error) {
	out := new(tracker.Result)
	return out, c.invoke(ctx, "HandleImagePercept", &p, out)
}

func (c *Client) PublishOdometry(ctx context.Context, odom worldmodel.Odometry) error {
	return c.invoke(ctx, "PublishOdometry", &odom, new(Empty))
}

func (c *Client) SysCommand(ctx context.Context, cmd worldmodel.SysCommand) (bool, error) {
	out := new(SysCommandResponse)
	err := c.invoke(ctx, "SysCommand", &cmd, out)
	return out.Handled, err
}

// WatchObjects streams model updates until ctx is cancelled.
func (c *Client) WatchObjects(ctx context.Context, req *WatchRequest) (grpc.ServerStreamingClient[publish.Event], error) {
	stream, err := c.cc.NewStream(ctx, &worldModelDesc.Streams[0], "/"+WorldModelServiceName+"/WatchObjects", JSON())
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchRequest, publish.Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
