package mux

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hostmon/symon/pkg/wire"
)

// Fanout distributes one formatted line per inbound packet to every
// subscribed reader. original_source used a bounded shared-memory region
// with a "master forbids read / permits read" handshake so forked reader
// processes never observed a half-written slot; here the line is fully
// formatted before it is sent, and per-subscriber channels fed under a
// mutex stand in for the handshake, giving the same guarantee — no reader
// sees a partial line — without shared memory.
type Fanout struct {
	mu          sync.Mutex
	subscribers map[chan string]struct{}
}

// NewFanout returns an empty fan-out buffer.
func NewFanout() *Fanout {
	return &Fanout{subscribers: make(map[chan string]struct{})}
}

// Subscribe registers a new reader and returns its channel plus an
// unsubscribe func. The channel is buffered so one slow subscriber can't
// block packet processing; a full channel drops that subscriber's line
// rather than stalling the writer (documented trade-off, not present in
// the original's per-process fan-out).
func (f *Fanout) Subscribe(bufSize int) (ch chan string, unsubscribe func()) {
	ch = make(chan string, bufSize)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
	}
}

// Count reports the current subscriber count, exported for metrics.
func (f *Fanout) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Publish formats one line for the records and broadcasts it to every
// subscriber. The line is built completely before the mutex is taken and
// only the finished string is sent, so no subscriber can observe a
// partially built line — the Go analogue of the forbidread/permitread
// critical section. Format:
// "srcaddr;type:arg:ts:fields;…\n", exactly symuxnet.c's handlemessage().
func (f *Fanout) Publish(srcAddr string, timestampUnix uint64, recs []wire.Record) {
	var b strings.Builder
	b.WriteString(srcAddr)
	b.WriteByte(';')
	for _, rec := range recs {
		b.WriteString(rec.Type.String())
		b.WriteByte(':')
		b.WriteString(rec.Arg)
		b.WriteByte(':')
		fmt.Fprintf(&b, "%d", timestampUnix)
		for _, v := range fieldsOf(rec) {
			b.WriteByte(':')
			fmt.Fprintf(&b, "%g", v)
		}
		b.WriteByte(';')
	}
	b.WriteByte('\n')
	line := b.String()

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- line:
		default:
			// slow subscriber: drop this line rather than block the writer.
		}
	}
}

func fieldsOf(rec wire.Record) []float64 {
	if rec.Type == wire.TypeProcess {
		pf := rec.Process
		return []float64{
			float64(pf.Count), float64(pf.UTimeUsec), float64(pf.STimeUsec),
			float64(pf.RTimeUsec), float64(pf.CPUPercent), float64(pf.VSizeBytes), float64(pf.RSSBytes),
		}
	}
	return rec.Values
}
