// Package mux implements the multiplexer daemon: source/stream
// authorization, the network loop that ingests probe packets over UDP and
// TCP, archival, and subscriber fan-out. Grounded on
// original_source/symux/symuxnet.c.
package mux

import (
	"net"
	"net/netip"
	"sync"

	"github.com/hostmon/symon/pkg/wire"
)

// Stream is one authorized (type, arg) a Source may report, mapped to the
// archive series it is recorded under.
type Stream struct {
	Type    wire.RecordType
	Arg     string
	Archive string
}

// Source is one configured probe peer: its address and the streams it is
// allowed to report. A packet from an address with no matching Source, or
// a record whose (type, arg) isn't in that Source's Streams, is dropped.
type Source struct {
	Addr    netip.AddrPort
	Streams []Stream

	mu   sync.Mutex
	conn net.Conn // the owning TCP connection, if this source streams over TCP
}

// FindStream returns the Stream matching (t, arg) within the source,
// mirroring find_stream_in_source's linear scan.
func (s *Source) FindStream(t wire.RecordType, arg string) (Stream, bool) {
	for _, st := range s.Streams {
		if st.Type == t && st.Arg == arg {
			return st, true
		}
	}
	return Stream{}, false
}

// Registry holds every configured Source and resolves inbound peers to
// them, mirroring find_source_by_sockaddr's linear scan.
type Registry struct {
	mu      sync.RWMutex
	sources []*Source
}

// NewRegistry returns an empty registry; sources are added via Add during
// configuration load.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a Source, rejecting a duplicate (type, arg) stream within
// it, surfaced at configuration time rather than at runtime.
func (r *Registry) Add(src *Source) error {
	seen := make(map[string]struct{}, len(src.Streams))
	for _, st := range src.Streams {
		key := st.Type.String() + ":" + st.Arg
		if _, ok := seen[key]; ok {
			return DuplicateStreamError{Type: st.Type, Arg: st.Arg}
		}
		seen[key] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
	return nil
}

// FindByAddr resolves a peer address to its configured Source. matchPort
// is true for TCP (where a configured port must match exactly) and false
// for UDP (host-only match). A Source
// configured with no port (port 0, host-only) always matches on host
// alone, TCP or not — most deployments name sources by address only.
func (r *Registry) FindByAddr(addr netip.AddrPort, matchPort bool) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.Addr.Addr() != addr.Addr() {
			continue
		}
		if matchPort && s.Addr.Port() != 0 && s.Addr.Port() != addr.Port() {
			continue
		}
		return s, true
	}
	return nil, false
}

// DuplicateStreamError reports a (type, arg) pair configured twice within
// one source block.
type DuplicateStreamError struct {
	Type wire.RecordType
	Arg  string
}

func (e DuplicateStreamError) Error() string {
	return "mux: duplicate stream configured: " + e.Type.String() + "(" + e.Arg + ")"
}
