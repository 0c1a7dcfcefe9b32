package sampler

import "net"

// UDPSender sends each finished packet as one datagram over UDP.
type UDPSender struct {
	conn *net.UDPConn
}

// NewUDPSender dials addr over UDP and returns a Sender that writes one
// packet per datagram.
func NewUDPSender(addr string) (*UDPSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &UDPSender{conn: conn}, nil
}

func (s *UDPSender) Send(packet []byte) error {
	_, err := s.conn.Write(packet)
	return err
}

// Close releases the underlying socket.
func (s *UDPSender) Close() error { return s.conn.Close() }

// TCPSender streams packets back-to-back over one persistent connection,
// the mux's reassembly state machine reads these back out.
type TCPSender struct {
	conn net.Conn
}

// NewTCPSender dials addr over TCP and returns a Sender that writes each
// finished packet as a contiguous write.
func NewTCPSender(addr string) (*TCPSender, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPSender{conn: conn}, nil
}

func (s *TCPSender) Send(packet []byte) error {
	_, err := s.conn.Write(packet)
	return err
}

// Close releases the underlying connection.
func (s *TCPSender) Close() error { return s.conn.Close() }
