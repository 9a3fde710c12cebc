// Command percept-replay sends the worldmodel datagrams found in a packet
// capture to a running worldmodel service, keeping their original pacing.
//
// Usage:
//
//	go run ./cmd/tools/percept-replay -pcap capture.pcap [flags]
//
// Flags:
//
//	-pcap     Capture file, pcap or pcapng (required)
//	-port     UDP destination port to pick from the capture (default: 8092)
//	-target   Address to send to (default: 127.0.0.1:8092)
//	-speed    Replay speed multiplier; 0 sends as fast as possible (default: 1)
//	-dry-run  Count envelopes by kind without sending
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/banshee-data/worldmodel/internal/monitoring"
)

func main() {
	pcapPath := flag.String("pcap", "", "Capture file, pcap or pcapng (required)")
	port := flag.Uint("port", 8092, "UDP destination port to pick from the capture")
	target := flag.String("target", "127.0.0.1:8092", "Address to send to")
	speed := flag.Float64("speed", 1, "Replay speed multiplier; 0 sends as fast as possible")
	dryRun := flag.Bool("dry-run", false, "Count envelopes by kind without sending")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := monitoring.NewLogger(*logLevel, "console")
	if err != nil {
		monitoring.Logf("invalid log level %q: %v", *logLevel, err)
		os.Exit(2)
	}
	monitoring.SetLogger(logger)
	defer monitoring.Sync()
	log := monitoring.Named("replay")

	if *pcapPath == "" {
		log.Error("-pcap is required")
		os.Exit(2)
	}
	if *port > 65535 {
		log.Errorw("invalid port", "port", *port)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(*pcapPath)
	if err != nil {
		log.Errorw("cannot open capture", "path", *pcapPath, "error", err)
		os.Exit(1)
	}
	defer f.Close()
	src, err := openCapture(f)
	if err != nil {
		log.Errorw("cannot read capture", "path", *pcapPath, "error", err)
		os.Exit(1)
	}

	send := func([]byte) error { return nil }
	if !*dryRun {
		conn, err := net.Dial("udp", *target)
		if err != nil {
			log.Errorw("cannot reach target", "target", *target, "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		send = func(b []byte) error {
			_, err := conn.Write(b)
			return errors.Wrap(err, "send datagram")
		}
	}

	log.Infow("replaying", "path", *pcapPath, "port", *port, "target", *target, "speed", *speed, "dry_run", *dryRun)
	st, err := replay(ctx, src, send, replayConfig{Port: uint16(*port), Speed: *speed})
	log.Infow("replay finished",
		"packets", st.Packets,
		"sent", st.Sent,
		"skipped", st.Skipped,
		"invalid", st.Invalid,
		"kinds", st.Kinds)
	if err != nil && !errors.Is(err, ctx.Err()) {
		log.Errorw("replay failed", "error", err)
		os.Exit(1)
	}
}
