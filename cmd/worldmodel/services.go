package main

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/banshee-data/worldmodel/internal/monitoring"
	"github.com/banshee-data/worldmodel/internal/rpc"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/verify"
)

const probeTimeout = time.Second

// externalServices owns the connections to the ranging and verification
// services.
type externalServices struct {
	log *zap.SugaredLogger

	mu        sync.Mutex
	ranging   *grpc.ClientConn
	verifiers map[string]*grpc.ClientConn
}

func newExternalServices() *externalServices {
	return &externalServices{
		log:       monitoring.Named("services"),
		verifiers: make(map[string]*grpc.ClientConn),
	}
}

// Ranging connects to the ranging service. An empty target yields nil:
// percepts then keep their default distance.
func (e *externalServices) Ranging(ctx context.Context, target string) (projector.RangingService, error) {
	if target == "" {
		return nil, nil
	}
	cc, err := rpc.Dial(target)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.ranging = cc
	e.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	rpc.ProbeAndLog(pctx, e.log, cc, target, rpc.RangingServiceName)
	return rpc.NewRangingClient(cc), nil
}

// Verifiers returns clients for targets in the given order. Connections to
// targets no longer listed are closed; new targets are dialled.
func (e *externalServices) Verifiers(ctx context.Context, targets []string) []verify.Verifier {
	e.mu.Lock()
	defer e.mu.Unlock()

	for target, cc := range e.verifiers {
		if !slices.Contains(targets, target) {
			_ = cc.Close()
			delete(e.verifiers, target)
			e.log.Infow("verification service removed", "target", target)
		}
	}

	out := make([]verify.Verifier, 0, len(targets))
	for _, target := range targets {
		cc, ok := e.verifiers[target]
		if !ok {
			var err error
			cc, err = rpc.Dial(target)
			if err != nil {
				e.log.Errorw("cannot use verification service", "target", target, "error", err)
				continue
			}
			e.verifiers[target] = cc
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			rpc.ProbeAndLog(pctx, e.log, cc, target, rpc.VerificationServiceName)
			cancel()
		}
		out = append(out, rpc.NewVerifierClient(target, cc))
	}
	return out
}

// Close closes every connection.
func (e *externalServices) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ranging != nil {
		_ = e.ranging.Close()
	}
	for _, cc := range e.verifiers {
		_ = cc.Close()
	}
	clear(e.verifiers)
}
