package mux

import (
	"bytes"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"github.com/hostmon/symon/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateStream(t *testing.T) {
	reg := NewRegistry()
	src := &Source{
		Addr: netip.MustParseAddrPort("10.0.0.5:2100"),
		Streams: []Stream{
			{Type: wire.TypeCPU, Arg: "cpu0", Archive: "cpu0.rrd"},
			{Type: wire.TypeCPU, Arg: "cpu0", Archive: "cpu0-dup.rrd"},
		},
	}
	err := reg.Add(src)
	assert.Error(t, err)
	var dup DuplicateStreamError
	assert.ErrorAs(t, err, &dup)
}

func TestRegistryFindByAddrPortPolicy(t *testing.T) {
	reg := NewRegistry()
	src := &Source{Addr: netip.MustParseAddrPort("10.0.0.5:2100")}
	require.NoError(t, reg.Add(src))

	// UDP: host-only match, any port.
	_, ok := reg.FindByAddr(netip.MustParseAddrPort("10.0.0.5:9999"), false)
	assert.True(t, ok)

	// TCP: exact port required.
	_, ok = reg.FindByAddr(netip.MustParseAddrPort("10.0.0.5:9999"), true)
	assert.False(t, ok)

	_, ok = reg.FindByAddr(netip.MustParseAddrPort("10.0.0.5:2100"), true)
	assert.True(t, ok)

	_, ok = reg.FindByAddr(netip.MustParseAddrPort("10.0.0.6:2100"), false)
	assert.False(t, ok)
}

type fakeWriter struct {
	calls int
	fail  bool
}

func (f *fakeWriter) Update(string, uint64, string) error {
	f.calls++
	if f.fail {
		return assertErr
	}
	return nil
}

var assertErr = assertError("archive backend unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestRateLimitedWriterSuppressesAfterThreshold(t *testing.T) {
	inner := &fakeWriter{fail: true}
	var logBuf bytes.Buffer
	w := NewRateLimitedWriter(inner, slog.New(slog.NewTextHandler(&logBuf, nil)))
	for i := 0; i < MaxArchiveErrors+5; i++ {
		err := w.Update("series.rrd", 1700000000, "1,2,3")
		assert.Error(t, err)
	}
	assert.Equal(t, MaxArchiveErrors+5, inner.calls)
	// Failures 1..MaxArchiveErrors-1 each warn, failure MaxArchiveErrors logs
	// the suppression notice, and every later failure logs nothing.
	assert.Equal(t, MaxArchiveErrors-1, strings.Count(logBuf.String(), "archive update failed"))
	assert.Equal(t, 1, strings.Count(logBuf.String(), "suppressing further warnings"))
}

func TestFanoutDeliversToSubscribers(t *testing.T) {
	f := NewFanout()
	ch, unsubscribe := f.Subscribe(4)
	defer unsubscribe()

	f.Publish("10.0.0.5:2100", 1700000000, []wire.Record{
		{Type: wire.TypeLoad, Arg: "", Values: []float64{1, 2, 3}},
	})

	select {
	case line := <-ch:
		assert.Contains(t, line, "10.0.0.5:2100;")
		assert.Contains(t, line, "load:")
	default:
		t.Fatal("expected a published line")
	}
}

func TestFanoutUnsubscribeClosesChannel(t *testing.T) {
	f := NewFanout()
	ch, unsubscribe := f.Subscribe(1)
	assert.Equal(t, 1, f.Count())
	unsubscribe()
	assert.Equal(t, 0, f.Count())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestHandlerAuthorizesAndArchives(t *testing.T) {
	reg := NewRegistry()
	src := &Source{
		Addr: netip.MustParseAddrPort("10.0.0.5:2100"),
		Streams: []Stream{
			{Type: wire.TypeLoad, Arg: "", Archive: "load.rrd"},
		},
	}
	require.NoError(t, reg.Add(src))

	archive := &fakeWriter{}
	fanout := NewFanout()
	ch, unsubscribe := fanout.Subscribe(4)
	defer unsubscribe()

	h := NewHandler(reg, archive, fanout, nil, nil)

	b := wire.NewPacketBuilder(256, 2)
	_, err := b.AppendRecord(wire.Record{Type: wire.TypeLoad, Values: []float64{1, 2, 3}})
	require.NoError(t, err)
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)

	peer := netip.MustParseAddrPort("10.0.0.5:2100")
	require.NoError(t, h.HandlePacket(peer, true, packet))
	assert.Equal(t, 1, archive.calls)

	select {
	case line := <-ch:
		assert.Contains(t, line, "load:")
	default:
		t.Fatal("expected a fan-out line")
	}
}

func TestHandlerRejectsUnauthorizedSource(t *testing.T) {
	reg := NewRegistry()
	h := NewHandler(reg, &fakeWriter{}, NewFanout(), nil, nil)

	b := wire.NewPacketBuilder(256, 2)
	_, _ = b.AppendRecord(wire.Record{Type: wire.TypeEOT, Values: []float64{}})
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)

	peer := netip.MustParseAddrPort("192.168.1.1:2100")
	err = h.HandlePacket(peer, false, packet)
	assert.ErrorIs(t, err, ErrUnauthorizedSource)
}

func TestHandlerRejectsBadCRC(t *testing.T) {
	reg := NewRegistry()
	src := &Source{Addr: netip.MustParseAddrPort("10.0.0.5:2100")}
	require.NoError(t, reg.Add(src))
	h := NewHandler(reg, &fakeWriter{}, NewFanout(), nil, nil)

	b := wire.NewPacketBuilder(256, 2)
	_, _ = b.AppendRecord(wire.Record{Type: wire.TypeEOT, Values: []float64{}})
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)
	packet[len(packet)-1] ^= 0xff

	err = h.HandlePacket(netip.MustParseAddrPort("10.0.0.5:2100"), true, packet)
	assert.Error(t, err)
}
