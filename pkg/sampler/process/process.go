// Package process implements the probe's process-accounting module: for
// each configured command name, report the live process count and
// aggregate CPU/memory usage since the previous tick. Grounded on
// original_source/platform/Linux/sm_proc.c, the hardest single module in
// the system (epoch-driven double buffering, saturating diffs, and a
// command-prefix index for O(log n) lookup).
package process

import (
	"log/slog"
	"time"

	"github.com/hostmon/symon/pkg/sampler"
	"github.com/hostmon/symon/pkg/system/util"
	"github.com/hostmon/symon/pkg/wire"
)

// accum is one epoch's raw counters for a stream, before diffing.
type accum struct {
	count      uint32
	utimeTicks uint64
	stimeTicks uint64
	vsizeBytes uint64
	rssBytes   uint64
}

// stream is one configured command: its double-buffered accumulators and
// the epoch index (epoch%2) selecting which buffer is live.
type stream struct {
	arg       string
	m         [2]accum
	lastEpoch uint64
}

// Sampler is the process-accounting Module. It is not safe for concurrent
// use; the scheduler drives it from a single goroutine.
type Sampler struct {
	Inventory Inventory
	Logger    *slog.Logger

	clockTicks int
	epoch      uint64
	lastTick   time.Time
	streams    []*stream
	index      *Index
}

// NewSampler constructs a process sampler over the given inventory source.
func NewSampler(inv Inventory, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{Inventory: inv, Logger: logger, clockTicks: ClockTicks()}
}

func (s *Sampler) Name() string { return "process" }

func (s *Sampler) PrivInit() error { return nil }

// Init registers one stream per configured command and builds the
// command-prefix index over them, rejecting duplicate commands the same
// way init_proc()'s bsearch-then-fatal check does. Every entry must carry
// wire.TypeProcess; this module owns no other record type.
func (s *Sampler) Init(streams []sampler.StreamConfig) error {
	commands := make([]string, len(streams))
	s.streams = make([]*stream, len(streams))
	for i, cfg := range streams {
		commands[i] = cfg.Arg
		s.streams[i] = &stream{arg: cfg.Arg}
	}
	s.index = NewIndex(commands)
	for i := range s.streams {
		if err := s.index.Insert(i); err != nil {
			return err
		}
	}
	return nil
}

// SampleAll advances the epoch, walks the live process inventory, and
// returns one wire.Record per stream that matched a live process this tick
// and has a prior accumulator to diff against.
func (s *Sampler) SampleAll() ([]wire.Record, error) {
	now := time.Now()
	s.epoch++

	infos, err := s.Inventory.Enumerate()
	if err != nil {
		return nil, err
	}

	touched := make(map[int]bool)
	for _, info := range infos {
		idx, ok := s.index.Lookup(info.Command)
		if !ok {
			continue
		}
		st := s.streams[idx]
		cur := &st.m[s.epoch%2]

		if st.lastEpoch < s.epoch {
			if st.lastEpoch != 0 && st.lastEpoch < s.epoch-1 {
				s.Logger.Warn("process sampler epoch skipped",
					"command", st.arg, "last_epoch", st.lastEpoch, "epoch", s.epoch)
			}
			*cur = accum{}
			st.lastEpoch = s.epoch
		}

		cur.count++
		cur.utimeTicks += info.UTimeTicks
		cur.stimeTicks += info.STimeTicks
		cur.vsizeBytes += info.VSizeBytes
		cur.rssBytes += info.RSSBytes
		touched[idx] = true
	}

	var wallDelta float64
	if !s.lastTick.IsZero() {
		wallDelta = now.Sub(s.lastTick).Seconds()
	}
	s.lastTick = now

	var out []wire.Record
	if s.epoch <= 1 {
		return out, nil
	}
	for idx := range touched {
		st := s.streams[idx]
		if st.lastEpoch != s.epoch {
			continue
		}
		cur := st.m[s.epoch%2]
		prev := st.m[(s.epoch-1)%2]

		utimeDiff := util.DeltaU64(cur.utimeTicks, prev.utimeTicks)
		stimeDiff := util.DeltaU64(cur.stimeTicks, prev.stimeTicks)
		rtimeDiff := utimeDiff + stimeDiff

		var cpuPercent float64
		if wallDelta > 0 {
			cpuPercent = 100 * float64(rtimeDiff) / float64(s.clockTicks) / wallDelta
		}

		pf := wire.ProcessFields{
			Count:      cur.count,
			UTimeUsec:  ticksToUsec(utimeDiff, s.clockTicks),
			STimeUsec:  ticksToUsec(stimeDiff, s.clockTicks),
			RTimeUsec:  ticksToUsec(rtimeDiff, s.clockTicks),
			CPUPercent: float32(cpuPercent),
			VSizeBytes: cur.vsizeBytes,
			RSSBytes:   cur.rssBytes,
		}
		out = append(out, wire.Record{Type: wire.TypeProcess, Arg: st.arg, Process: pf})
	}
	return out, nil
}

func ticksToUsec(ticks uint64, clockTicks int) uint64 {
	return ticks * 1_000_000 / uint64(clockTicks)
}
