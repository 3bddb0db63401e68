package publisher

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// Socket writes JSON messages to a unix socket, each prefixed with its length as 10 decimal digits.
// A failed write drops the connection; the next Publish redials.
type Socket struct {
	mu   sync.Mutex
	addr string
	conn net.Conn
}

func NewSocket(addr string) (*Socket, error) {
	if addr == "" {
		return nil, fmt.Errorf("socket address is empty")
	}
	return &Socket{addr: addr}, nil
}

func (s *Socket) Addr() string {
	return s.addr
}

func (s *Socket) dial() error {
	conn, err := net.Dial("unix", s.addr)
	if err != nil {
		return fmt.Errorf("failed to open Unix socket: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *Socket) closeConn() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Socket) Publish(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error serializing message: %w", err)
	}
	frame := append([]byte(fmt.Sprintf("%010d", len(data))), data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if err := s.dial(); err != nil {
			return err
		}
	}
	if _, err := s.conn.Write(frame); err != nil {
		s.closeConn()
		return fmt.Errorf("error writing to Unix socket: %w", err)
	}
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeConn()
}
