package ingest

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/banshee-data/worldmodel/internal/monitoring"
)

// maxDatagram is the largest message accepted.
const maxDatagram = 64 * 1024

// Config configures a Listener.
type Config struct {
	Address string
	// RcvBuf is the socket receive buffer size; zero keeps the OS default.
	RcvBuf int
	// RateLimit caps accepted datagrams per second. Zero or less disables
	// the limit.
	RateLimit float64
	// QueueSize bounds datagrams waiting for the tracker (default 256).
	QueueSize   int
	LogInterval time.Duration
	Factory     UDPSocketFactory
}

// StatsSnapshot counts what happened to received datagrams.
type StatsSnapshot struct {
	Received    uint64 `json:"received"`
	RateLimited uint64 `json:"rate_limited"`
	Overflow    uint64 `json:"overflow"`
	Failed      uint64 `json:"failed"`
}

// Listener reads envelopes from a UDP socket. Datagrams are handled in
// arrival order by a single worker; while the worker is busy they queue
// up, and once the queue is full they are dropped.
type Listener struct {
	cfg        Config
	dispatcher Dispatcher
	limiter    *rate.Limiter
	log        *zap.SugaredLogger

	addr  atomic.Pointer[net.UDPAddr]
	ready chan struct{}

	received    atomic.Uint64
	rateLimited atomic.Uint64
	overflow    atomic.Uint64
	failed      atomic.Uint64
}

func NewListener(cfg Config, d Dispatcher) *Listener {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	return &Listener{
		cfg:        cfg,
		dispatcher: d,
		limiter:    rate.NewLimiter(limit(cfg.RateLimit), burst(cfg.RateLimit)),
		log:        monitoring.Named("ingest"),
		ready:      make(chan struct{}),
	}
}

func limit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func burst(perSecond float64) int {
	return max(1, int(perSecond))
}

// SetRateLimit changes the datagram rate limit.
func (l *Listener) SetRateLimit(perSecond float64) {
	l.limiter.SetLimit(limit(perSecond))
	l.limiter.SetBurst(burst(perSecond))
}

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Addr is the bound address, nil before Ready.
func (l *Listener) Addr() *net.UDPAddr { return l.addr.Load() }

// Stats returns the datagram counters.
func (l *Listener) Stats() StatsSnapshot {
	return StatsSnapshot{
		Received:    l.received.Load(),
		RateLimited: l.rateLimited.Load(),
		Overflow:    l.overflow.Load(),
		Failed:      l.failed.Load(),
	}
}

// Start binds the socket and serves until ctx is done. It returns nil on
// cancellation.
func (l *Listener) Start(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return errors.Wrap(err, "failed to resolve UDP address")
	}
	conn, err := l.cfg.Factory.ListenUDP("udp", laddr)
	if err != nil {
		return errors.Wrap(err, "failed to listen on UDP address")
	}
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			l.log.Warnw("failed to set UDP receive buffer size", "size", l.cfg.RcvBuf, "error", err)
		}
	}
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		l.addr.Store(a)
	}
	close(l.ready)
	l.log.Infow("UDP listener started", "address", conn.LocalAddr().String(), "rate_limit", l.cfg.RateLimit)

	queue := make(chan []byte, l.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.work(ctx, queue)
	}()
	go func() {
		defer wg.Done()
		l.logStats(ctx)
	}()
	defer func() {
		close(queue)
		wg.Wait()
	}()

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			l.log.Info("UDP listener stopping")
			return nil
		}
		// a short deadline lets the loop notice cancellation
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.log.Warnw("UDP read error", "error", err)
			continue
		}
		l.received.Add(1)
		if !l.limiter.Allow() {
			l.rateLimited.Add(1)
			continue
		}
		packet := append([]byte(nil), buf[:n]...)
		select {
		case queue <- packet:
		default:
			l.overflow.Add(1)
			l.log.Debugw("queue full, dropping datagram", "from", addr)
		}
	}
}

func (l *Listener) work(ctx context.Context, queue <-chan []byte) {
	for packet := range queue {
		if ctx.Err() != nil {
			continue
		}
		if err := l.dispatcher.Dispatch(ctx, packet); err != nil {
			l.failed.Add(1)
			l.log.Debugw("datagram rejected", "error", err)
		}
	}
}

func (l *Listener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	var last StatsSnapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := l.Stats()
			if s == last {
				continue
			}
			l.log.Infow("datagram stats",
				"received", s.Received-last.Received,
				"rate_limited", s.RateLimited-last.RateLimited,
				"overflow", s.Overflow-last.Overflow,
				"failed", s.Failed-last.Failed)
			last = s
		}
	}
}
