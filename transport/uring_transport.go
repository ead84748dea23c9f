//go:build linux

package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/iceber/iouring-go"
	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

// UringTransport implements Transport using io_uring for socket I/O.
// It takes over the descriptor of an accepted connection; the ring is shared
// between connections and owned by the Factory.
type UringTransport struct {
	iour    *iouring.IOURing
	file    *os.File
	fd      int
	remote  string
	expired atomic.Bool

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	closed bool
}

type fileConn interface {
	net.Conn
	File() (*os.File, error)
}

// NewUringTransport detaches the descriptor from conn and serves it through iour.
// conn is closed in every case; the returned transport owns a duplicate descriptor.
func NewUringTransport(iour *iouring.IOURing, conn net.Conn) (*UringTransport, error) {
	fc, ok := conn.(fileConn)
	if !ok {
		conn.Close()
		return nil, httperrors.NewInvalidArgumentError("connection does not expose a file descriptor")
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	file, err := fc.File()
	conn.Close()
	if err != nil {
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringInit,
			"failed to duplicate socket descriptor",
			err,
		)
	}

	// Fd puts the duplicate into blocking mode, the ring waits on it for us
	fd := int(file.Fd())

	return &UringTransport{
		iour:   iour,
		file:   file,
		fd:     fd,
		remote: remote,
	}, nil
}

// Read receives data from the connection using io_uring
func (t *UringTransport) Read(buf []byte) (int, error) {
	if t.isClosed() {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	ch := make(chan iouring.Result, 1)
	prepReq := iouring.Recv(t.fd, buf, 0)
	if _, err := t.iour.SubmitRequest(prepReq, ch); err != nil {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringSubmit,
			"failed to submit read request",
			err,
		)
	}

	result := <-ch
	n, err := result.ReturnInt()
	if t.expired.Load() {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorTimeout, "deadline exceeded", err)
	}
	if err != nil {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorSocketReadFailure,
			"read failed",
			err,
		)
	}

	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}

	return n, nil
}

// Write sends data over the connection using io_uring
func (t *UringTransport) Write(buf []byte) (int, error) {
	if t.isClosed() {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		ch := make(chan iouring.Result, 1)
		prepReq := iouring.Send(t.fd, buf[totalWritten:], 0)
		if _, err := t.iour.SubmitRequest(prepReq, ch); err != nil {
			return totalWritten, httperrors.NewTransportError(
				httperrors.TransportErrorIoUringSubmit,
				"failed to submit write request",
				err,
			)
		}

		result := <-ch
		n, err := result.ReturnInt()
		if t.expired.Load() {
			return totalWritten, httperrors.NewTransportError(httperrors.TransportErrorTimeout, "deadline exceeded", err)
		}
		if err != nil {
			code := httperrors.TransportErrorSocketWriteFailure
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
				code = httperrors.TransportErrorConnectionClosed
			}
			return totalWritten, httperrors.NewTransportError(code, "write failed", err)
		}

		if n <= 0 {
			return totalWritten, httperrors.NewTransportError(
				httperrors.TransportErrorConnectionClosed,
				"connection closed during write",
				nil,
			)
		}

		totalWritten += n
	}

	return totalWritten, nil
}

// SetDeadline arms a timer that shuts the socket down when it fires,
// which completes any in-flight ring operation on it. Once a deadline has
// fired the socket is unusable, and later calls report the timeout.
func (t *UringTransport) SetDeadline(deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	// A timer that already fired but has not taken mu yet sees a newer gen
	t.gen++

	if t.expired.Load() {
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "deadline already expired", nil)
	}
	if deadline.IsZero() {
		return nil
	}

	gen := t.gen
	t.timer = time.AfterFunc(time.Until(deadline), func() {
		t.expire(gen)
	})
	return nil
}

func (t *UringTransport) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The descriptor may already be reused by another connection
	if t.closed || gen != t.gen {
		return
	}
	t.expired.Store(true)
	syscall.Shutdown(t.fd, syscall.SHUT_RDWR)
}

// CloseWrite shuts down the sending side of the socket
func (t *UringTransport) CloseWrite() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	if err := syscall.Shutdown(t.fd, syscall.SHUT_WR); err != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "shutdown failed", err)
	}
	return nil
}

// RemoteAddr returns the peer address captured at accept time
func (t *UringTransport) RemoteAddr() string {
	return t.remote
}

// Close closes the connection. The shared ring stays open.
func (t *UringTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil // Already closed
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}

	if err := t.file.Close(); err != nil {
		return httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	t.fd = -1

	return nil
}

func (t *UringTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
