package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hostmon/symon/pkg/wire"
)

// Sender transmits one finished packet. The probe wires this to a UDP or
// TCP connection depending on configuration.
type Sender interface {
	Send(packet []byte) error
}

// Scheduler ticks every Interval, asks each Module for its records, packs
// them into packets of at most PacketSize octets and hands finished packets
// to Sender. Packing a record that doesn't fit the current packet flushes
// it and starts a new one.
type Scheduler struct {
	Interval   time.Duration
	PacketSize int
	Version    uint8
	Modules    []Module
	Sender     Sender
	Logger     *slog.Logger
}

// Run drives the sampling loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.tick(now, logger); err != nil {
				logger.Error("sampling tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(now time.Time, logger *slog.Logger) error {
	builder := wire.NewPacketBuilder(s.PacketSize, s.Version)

	flush := func() error {
		if builder.Empty() {
			return nil
		}
		packet, err := builder.Finish(uint64(now.Unix()))
		if err != nil {
			return err
		}
		if err := s.Sender.Send(packet); err != nil {
			return err
		}
		builder.Reset()
		return nil
	}

	for _, m := range s.Modules {
		records, err := m.SampleAll()
		if err != nil {
			logger.Warn("module sample failed", "module", m.Name(), "error", err)
			continue
		}
		for _, rec := range records {
			n, err := builder.AppendRecord(rec)
			if err != nil {
				logger.Warn("record pack failed", "module", m.Name(), "type", rec.Type, "error", err)
				continue
			}
			if n == 0 {
				if err := flush(); err != nil {
					return err
				}
				if n2, err := builder.AppendRecord(rec); err != nil || n2 == 0 {
					logger.Error("record too large for packet", "module", m.Name(), "type", rec.Type)
				}
			}
		}
	}
	return flush()
}
