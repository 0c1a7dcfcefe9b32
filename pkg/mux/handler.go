package mux

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/hostmon/symon/pkg/wire"
)

// ErrUnauthorizedSource is returned when a packet arrives from a peer
// address with no matching configured Source.
var ErrUnauthorizedSource = errors.New("mux: unauthorized source")

// Metrics receives counters from the handler; the prometheus-backed
// implementation lives in metrics.go. A nil Metrics is valid — Handler
// treats every call as a no-op in that case, so mux can run unconfigured
// for metrics; it's disabled by default.
type Metrics interface {
	IncAccepted()
	IncDropped(reason string)
	IncArchiveError(series string)
	SetSubscribers(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncAccepted()                {}
func (noopMetrics) IncDropped(string)           {}
func (noopMetrics) IncArchiveError(string)       {}
func (noopMetrics) SetSubscribers(int)          {}

// Handler is the single packet-processing critical section both the UDP
// and TCP ingestion paths funnel through — the Go equivalent of the
// master_forbidread/master_permitread handshake: one mutex
// guarantees archive-write-then-fanout-publish happens atomically per
// packet, so a subscriber's line always reflects a fully processed packet.
type Handler struct {
	Registry *Registry
	Archive  Writer
	Fanout   *Fanout
	Metrics  Metrics
	Logger   *slog.Logger

	mu sync.Mutex
}

// NewHandler wires the registry, archive writer and fan-out buffer
// together. A nil Metrics or Logger gets a safe default.
func NewHandler(reg *Registry, archive Writer, fanout *Fanout, metrics Metrics, logger *slog.Logger) *Handler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Registry: reg, Archive: archive, Fanout: fanout, Metrics: metrics, Logger: logger}
}

// HandlePacket verifies, authorizes, archives and fans out one received
// packet. matchPort is true for TCP sources (exact address:port match) and
// false for UDP (host-only).
func (h *Handler) HandlePacket(peer netip.AddrPort, matchPort bool, buf []byte) error {
	hdr, _, err := wire.DecodeHeader(buf)
	if err != nil {
		h.Metrics.IncDropped("short-header")
		return err
	}

	decision := wire.Verify(buf, hdr, len(buf))
	if decision != wire.Accept {
		h.Metrics.IncDropped(decision.String())
		return fmt.Errorf("mux: packet from %s rejected: %s", peer, decision)
	}

	src, ok := h.Registry.FindByAddr(peer, matchPort)
	if !ok {
		h.Metrics.IncDropped("unauthorized")
		return ErrUnauthorizedSource
	}

	records, err := wire.DecodeRecords(buf, hdr)
	if err != nil {
		h.Logger.Warn("malformed record in otherwise valid packet", "peer", peer, "error", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var authorized []wire.Record
	for _, rec := range records {
		stream, ok := src.FindStream(rec.Type, rec.Arg)
		if !ok {
			continue // not in this source's accept list: silently dropped per-record
		}
		if err := h.Archive.Update(stream.Archive, hdr.Timestamp, csvOf(rec)); err != nil {
			h.Metrics.IncArchiveError(stream.Archive)
		}
		authorized = append(authorized, rec)
	}

	h.Fanout.Publish(peer.String(), hdr.Timestamp, authorized)
	h.Metrics.IncAccepted()
	return nil
}

func csvOf(rec wire.Record) string {
	values := fieldsOf(rec)
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
