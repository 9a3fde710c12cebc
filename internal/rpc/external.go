package rpc

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/verify"
)

const (
	verifyMethod   = "/" + VerificationServiceName + "/Verify"
	distanceMethod = "/" + RangingServiceName + "/GetDistanceToObstacle"
)

// VerifierClient calls a remote verification service. It implements
// verify.Verifier.
type VerifierClient struct {
	name string
	cc   grpc.ClientConnInterface
}

// NewVerifierClient wraps a connection. name identifies the service in
// logs and debug output.
func NewVerifierClient(name string, cc grpc.ClientConnInterface) *VerifierClient {
	return &VerifierClient{name: name, cc: cc}
}

func (c *VerifierClient) Name() string { return c.name }

func (c *VerifierClient) Verify(ctx context.Context, obj worldmodel.Object) (verify.Response, error) {
	var out VerifyResponse
	if err := c.cc.Invoke(ctx, verifyMethod, &VerifyRequest{Object: obj}, &out, JSON()); err != nil {
		return verify.Unreachable, errors.Wrapf(err, "call %s", c.name)
	}
	return out.Response, nil
}

// RangingClient calls a remote ranging service. It implements
// projector.RangingService.
type RangingClient struct {
	cc grpc.ClientConnInterface
}

func NewRangingClient(cc grpc.ClientConnInterface) *RangingClient {
	return &RangingClient{cc: cc}
}

func (c *RangingClient) DistanceToObstacle(ctx context.Context, frame string, point r3.Vec, stamp time.Time) (float64, error) {
	req := &DistanceRequest{FrameID: frame, Stamp: stamp, Point: worldmodel.PointFrom(point)}
	var out DistanceResponse
	if err := c.cc.Invoke(ctx, distanceMethod, req, &out, JSON()); err != nil {
		return 0, errors.Wrap(err, "get distance to obstacle")
	}
	return out.Distance, nil
}

type verificationService interface {
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
}

type verifierServer struct{ v verify.Verifier }

func (s verifierServer) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	r, err := s.v.Verify(ctx, req.Object)
	if err != nil {
		return nil, toStatus(err)
	}
	return &VerifyResponse{Response: r}, nil
}

var verificationDesc = grpc.ServiceDesc{
	ServiceName: VerificationServiceName,
	HandlerType: (*verificationService)(nil),
	Methods: []grpc.MethodDesc{
		unary(VerificationServiceName, "Verify", verificationService.Verify),
	},
}

// RegisterVerificationService serves v as a verification service.
func RegisterVerificationService(s grpc.ServiceRegistrar, v verify.Verifier) {
	s.RegisterService(&verificationDesc, verifierServer{v: v})
}

type rangingService interface {
	GetDistanceToObstacle(context.Context, *DistanceRequest) (*DistanceResponse, error)
}

type rangingServer struct{ r projector.RangingService }

func (s rangingServer) GetDistanceToObstacle(ctx context.Context, req *DistanceRequest) (*DistanceResponse, error) {
	d, err := s.r.DistanceToObstacle(ctx, req.FrameID, req.Point.Vec(), req.Stamp)
	if err != nil {
		return nil, toStatus(err)
	}
	// JSON has no infinity; a non-positive distance means no range as well.
	if math.IsInf(d, 0) || math.IsNaN(d) {
		d = -1
	}
	return &DistanceResponse{Distance: d}, nil
}

var rangingDesc = grpc.ServiceDesc{
	ServiceName: RangingServiceName,
	HandlerType: (*rangingService)(nil),
	Methods: []grpc.MethodDesc{
		unary(RangingServiceName, "GetDistanceToObstacle", rangingService.GetDistanceToObstacle),
	},
}

// RegisterRangingService serves r as a ranging service.
func RegisterRangingService(s grpc.ServiceRegistrar, r projector.RangingService) {
	s.RegisterService(&rangingDesc, rangingServer{r: r})
}
