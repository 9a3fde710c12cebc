package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/worldmodel/internal/ingest"
)

// captureSource is satisfied by both the pcap and the pcapng readers.
type captureSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openCapture reads a pcap file, falling back to pcapng.
func openCapture(r io.ReadSeeker) (captureSource, error) {
	pr, err := pcapgo.NewReader(r)
	if err == nil {
		return pr, nil
	}
	if _, serr := r.Seek(0, io.SeekStart); serr != nil {
		return nil, errors.Wrap(serr, "rewind capture")
	}
	ng, ngErr := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, errors.Wrapf(ngErr, "neither pcap (%v) nor pcapng", err)
	}
	return ng, nil
}

type replayConfig struct {
	Port  uint16  // UDP destination port to replay
	Speed float64 // <= 0 disables pacing
}

type replayStats struct {
	Packets int            // packets read
	Sent    int            // datagrams handed to send
	Skipped int            // not UDP, other port or empty
	Invalid int            // payloads that are not envelopes
	Kinds   map[string]int // sent datagrams by envelope kind
}

// replay hands every envelope sent to cfg.Port in src to send, in capture
// order, spaced like the capture timestamps divided by cfg.Speed.
func replay(ctx context.Context, src captureSource, send func([]byte) error, cfg replayConfig) (replayStats, error) {
	st := replayStats{Kinds: make(map[string]int)}
	packets := gopacket.NewPacketSource(src, src.LinkType())

	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, errors.Wrapf(err, "read packet %d", st.Packets+1)
		}
		st.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || uint16(udp.DstPort) != cfg.Port || len(udp.Payload) == 0 {
			st.Skipped++
			continue
		}
		var env ingest.Envelope
		if err := json.Unmarshal(udp.Payload, &env); err != nil || env.Kind == "" {
			st.Invalid++
			continue
		}

		captured := packet.Metadata().Timestamp
		if cfg.Speed > 0 && !last.IsZero() {
			if err := wait(ctx, time.Duration(float64(captured.Sub(last))/cfg.Speed)); err != nil {
				return st, err
			}
		}
		last = captured

		if err := send(udp.Payload); err != nil {
			return st, err
		}
		st.Sent++
		st.Kinds[env.Kind]++
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
