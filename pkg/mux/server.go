package mux

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/hostmon/symon/pkg/wire"
	"github.com/higebu/netfd"
	"github.com/rs/xid"
)

// MaxPacketSize bounds the scratch buffer used for both UDP datagrams and
// TCP reassembly, the Go analogue of MAX_OBJSIZE.
const MaxPacketSize = 65536

// Server owns every listening socket the mux daemon runs: UDP and TCP
// telemetry ingestion, and the subscriber fan-out listener. Each listener
// gets its own goroutine rather than sharing one readiness-multiplexed
// descriptor set.
type Server struct {
	Handler *Handler
	Fanout  *Fanout
	Logger  *slog.Logger

	wg sync.WaitGroup
}

// NewServer wires a Server around an already-constructed Handler/Fanout.
func NewServer(h *Handler, fanout *Fanout, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Handler: h, Fanout: fanout, Logger: logger}
}

// ServeUDP runs the UDP telemetry decoder on conn until ctx is canceled.
// Each datagram is a complete, self-contained packet: it is either fully
// accepted or fully dropped, never reassembled across reads.
func (s *Server) ServeUDP(ctx context.Context, conn *net.UDPConn) error {
	s.wg.Add(1)
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		packet := append([]byte(nil), buf[:n]...)
		if err := s.Handler.HandlePacket(addr, false, packet); err != nil {
			s.Logger.Debug("udp packet dropped", "peer", addr, "error", err)
		}
	}
}

// ServeTCPTelemetry accepts connections on ln forever, spawning one
// goroutine per connection that owns that source's reassembly buffer —
// this is what preserves the per-source in-order guarantee without a
// shared select() loop.
func (s *Server) ServeTCPTelemetry(ctx context.Context, ln net.Listener) error {
	s.wg.Add(1)
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		peer, ok := peerAddrPort(conn)
		if !ok {
			conn.Close()
			continue
		}
		src, authorized := s.Handler.Registry.FindByAddr(peer, true)
		if !authorized {
			s.Logger.Warn("tcp telemetry connection from unauthorized source", "peer", peer)
			conn.Close()
			continue
		}
		src.mu.Lock()
		if src.conn != nil {
			s.Logger.Info("replacing existing tcp telemetry connection for source", "peer", peer)
			src.conn.Close()
		}
		src.conn = conn
		src.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ownTelemetryConn(ctx, conn, peer)
		}()
	}
}

// ownTelemetryConn is the per-connection TCP reassembly state machine. It
// owns a scratch buffer for this source alone, so packets from this peer
// are always handled in the order they were sent.
func (s *Server) ownTelemetryConn(ctx context.Context, conn net.Conn, peer netip.AddrPort) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	connID := xid.New().String()
	s.Logger.Debug("tcp telemetry connection opened", "peer", peer, "conn", connID, "fd", netfd.GetFdFromConn(conn))

	scratch := make([]byte, MaxPacketSize)
	received := 0

	for {
		if received < wire.HeaderSize {
			n, err := conn.Read(scratch[received:])
			if err != nil {
				if err != io.EOF {
					s.Logger.Debug("tcp telemetry read error", "peer", peer, "conn", connID, "error", err)
				}
				return
			}
			received += n
			continue
		}

		hdr, _, err := wire.DecodeHeader(scratch[:received])
		if err != nil {
			return
		}
		if int(hdr.Length) > len(scratch) {
			s.Logger.Warn("tcp telemetry packet exceeds scratch size, closing", "peer", peer, "conn", connID, "length", hdr.Length)
			return
		}
		if received < int(hdr.Length) {
			n, err := conn.Read(scratch[received:])
			if err != nil {
				if err != io.EOF {
					s.Logger.Debug("tcp telemetry read error", "peer", peer, "conn", connID, "error", err)
				}
				return
			}
			received += n
			continue
		}

		packet := scratch[:hdr.Length]
		decision := wire.Verify(packet, hdr, len(packet))
		if decision == wire.DropBadCRC {
			s.Logger.Warn("tcp telemetry packet failed crc, closing connection", "peer", peer, "conn", connID)
			return
		}
		if decision == wire.Accept {
			if err := s.Handler.HandlePacket(peer, true, packet); err != nil {
				s.Logger.Debug("tcp packet dropped", "peer", peer, "conn", connID, "error", err)
			}
		} else {
			// unsupported version: drop just this packet, keep the connection.
			s.Logger.Debug("tcp telemetry packet dropped", "peer", peer, "conn", connID, "reason", decision)
		}

		tail := received - int(hdr.Length)
		copy(scratch, scratch[hdr.Length:received])
		received = tail
	}
}

// ServeSubscribers accepts subscriber connections on ln forever, spawning
// one reader goroutine per subscriber fed by the shared Fanout's broadcast
// channel — the message-passing replacement for fork-per-subscriber plus
// shared memory.
func (s *Server) ServeSubscribers(ctx context.Context, ln net.Listener) error {
	s.wg.Add(1)
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveSubscriber(ctx, conn)
		}()
	}
}

func (s *Server) serveSubscriber(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ch, unsubscribe := s.Fanout.Subscribe(64)
	s.Handler.Metrics.SetSubscribers(s.Fanout.Count())
	defer func() {
		unsubscribe()
		s.Handler.Metrics.SetSubscribers(s.Fanout.Count())
	}()

	subID := xid.New().String()
	s.Logger.Debug("subscriber connected", "remote", conn.RemoteAddr(), "sub", subID)
	defer s.Logger.Debug("subscriber disconnected", "remote", conn.RemoteAddr(), "sub", subID)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	w := bufio.NewWriter(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.WriteString(line); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

// Wait blocks until every spawned listener/connection goroutine has
// returned, used during orderly shutdown.
func (s *Server) Wait() {
	s.wg.Wait()
}

func peerAddrPort(conn net.Conn) (netip.AddrPort, bool) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ap.Unmap(), uint16(addr.Port)), true
}
