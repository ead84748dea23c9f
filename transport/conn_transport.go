package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

// ConnTransport implements Transport on top of an accepted net.Conn.
// It serves both TCP and Unix domain socket connections.
type ConnTransport struct {
	conn net.Conn
}

// NewConnTransport wraps an accepted connection
func NewConnTransport(conn net.Conn) *ConnTransport {
	// Lower latency for the single response write
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return &ConnTransport{conn: conn}
}

// Read receives data from the connection
func (t *ConnTransport) Read(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorSocketReadFailure, "not connected", nil)
	}

	n, err := t.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Callers treat EOF as end of request, keep it recognisable
			return n, io.EOF
		}
		return n, classify(err, httperrors.TransportErrorSocketReadFailure, "read failed")
	}

	return n, nil
}

// Write sends data over the connection.
// net.Conn already retries short writes until the buffer is drained or an error occurs.
func (t *ConnTransport) Write(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "not connected", nil)
	}

	n, err := t.conn.Write(buf)
	if err != nil {
		return n, classify(err, httperrors.TransportErrorSocketWriteFailure, "write failed")
	}

	return n, nil
}

// ReadFrom streams r into the connection. For *os.File sources over TCP
// this lets the runtime use sendfile.
func (t *ConnTransport) ReadFrom(r io.Reader) (int64, error) {
	if t.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "not connected", nil)
	}

	n, err := io.Copy(t.conn, r)
	if err != nil {
		var he *httperrors.HttpError
		if errors.As(err, &he) {
			// Source side failure, already classified
			return n, err
		}
		return n, classify(err, httperrors.TransportErrorSocketWriteFailure, "write failed")
	}

	return n, nil
}

// SetDeadline sets the read and write deadline of the connection
func (t *ConnTransport) SetDeadline(deadline time.Time) error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return classify(err, httperrors.TransportErrorSocketReadFailure, "failed to set deadline")
	}
	return nil
}

// CloseWrite half-closes TCP and Unix connections; other conns are left as they are
func (t *ConnTransport) CloseWrite() error {
	cw, ok := t.conn.(interface{ CloseWrite() error })
	if !ok {
		return nil
	}
	if err := cw.CloseWrite(); err != nil {
		return classify(err, httperrors.TransportErrorSocketWriteFailure, "shutdown failed")
	}
	return nil
}

// RemoteAddr returns the peer address
func (t *ConnTransport) RemoteAddr() string {
	if t.conn == nil || t.conn.RemoteAddr() == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

// Close closes the connection
func (t *ConnTransport) Close() error {
	if t.conn == nil {
		return nil // Idempotent close
	}

	err := t.conn.Close()
	t.conn = nil

	if err != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "failed to close socket", err)
	}

	return nil
}

func classify(err error, fallback httperrors.TransportError, message string) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "deadline exceeded", err)
	}
	// Broken pipe or connection reset
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "connection closed", err)
	}
	return httperrors.NewTransportError(fallback, message, err)
}
