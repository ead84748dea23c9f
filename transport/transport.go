package transport

import "time"

// Transport is the byte stream of one accepted connection.
// The server core reads one request from it, writes one response, and closes it.
type Transport interface {
	// Read receives data from the peer.
	// Returns the number of bytes read or an error.
	Read(buf []byte) (int, error)

	// Write sends all of buf to the peer, retrying short writes.
	// Returns the number of bytes written or an error.
	Write(buf []byte) (int, error)

	// SetDeadline bounds all pending and future Read and Write calls.
	// A zero value clears the deadline.
	SetDeadline(t time.Time) error

	// CloseWrite shuts down the sending side; the peer sees EOF after
	// everything already written. Reading stays possible.
	CloseWrite() error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string

	// Close closes the connection. Closing twice is not an error.
	Close() error
}
