package netio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// pollInterval is the deadline slice used to approximate non-blocking reads
// and writes over the portable net.Conn API: an operation that makes no
// progress within one slice reports ErrWouldBlock.
const pollInterval = 20 * time.Millisecond

// TCPBackend implements Backend over the platform TCP stack.
type TCPBackend struct{}

// NewTCPBackend returns the default TCP backend.
func NewTCPBackend() *TCPBackend {
	return &TCPBackend{}
}

// Connect opens an outbound TCP stream.
func (b *TCPBackend) Connect(host string, port uint16) (StreamSocket, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, translateErr(err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	return &tcpSocket{conn: conn}, nil
}

// Listen binds a TCP acceptor.
func (b *TCPBackend) Listen(port uint16) (Acceptor, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, translateErr(err)
	}

	return &tcpAcceptor{ln: ln}, nil
}

// tcpSocket adapts a net.Conn to the StreamSocket contract using short
// deadlines to emulate non-blocking semantics.
type tcpSocket struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

func (s *tcpSocket) ReadSome(p []byte) (int, error) {
	s.conn.SetReadDeadline(time.Now().Add(pollInterval))
	n, err := s.conn.Read(p)
	if n > 0 {
		return n, nil
	}

	return 0, translateErr(err)
}

func (s *tcpSocket) WriteSome(p []byte) (int, error) {
	s.conn.SetWriteDeadline(time.Now().Add(pollInterval))
	n, err := s.conn.Write(p)
	if n > 0 {
		return n, nil
	}

	return 0, translateErr(err)
}

func (s *tcpSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

func (s *tcpSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// tcpAcceptor adapts a net.Listener.
type tcpAcceptor struct {
	ln        net.Listener
	closeOnce sync.Once
	closeErr  error
}

func (a *tcpAcceptor) Accept() (StreamSocket, error) {
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, translateErr(err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	return &tcpSocket{conn: conn}, nil
}

func (a *tcpAcceptor) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.ln.Close()
	})

	return a.closeErr
}

func (a *tcpAcceptor) Addr() string {
	return a.ln.Addr().String()
}

// translateErr maps platform errors onto the sum-typed codes.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, io.EOF):
		return ErrClosed

	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrWouldBlock

	case errors.Is(err, net.ErrClosed):
		return ErrClosed

	case strings.Contains(err.Error(), "connection reset"):
		return ErrReset

	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return ErrWouldBlock
		}

		return &OtherError{Errno: err}
	}
}
