//go:build linux

package files

import (
	"io"
	"os"

	"github.com/godzie44/go-uring/uring"
	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

// UringOpener opens files whose contents are read through io_uring.
// Each body gets its own small ring so workers never share one.
type UringOpener struct{}

// NewUringOpener checks that the kernel accepts ring setup before any request needs it
func NewUringOpener() (Opener, error) {
	ring, err := uring.New(8)
	if err != nil {
		return nil, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorOpenFailure,
			"failed to initialize io_uring",
			err,
		)
	}
	ring.Close()
	return UringOpener{}, nil
}

// Open opens path and prepares a ring for reading it
func (UringOpener) Open(path string) (Body, error) {
	f, size, err := openRegular(path)
	if err != nil {
		return nil, err
	}

	ring, err := uring.New(8)
	if err != nil {
		f.Close()
		return nil, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorOpenFailure,
			"failed to initialize io_uring",
			err,
		)
	}

	return &RingBody{ring: ring, file: f, size: size}, nil
}

// RingBody reads a file sequentially with one read submission per call
type RingBody struct {
	ring *uring.Ring
	file *os.File
	size int64
	off  int64
}

// Read reads the next block of the file using io_uring
func (b *RingBody) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Queue read operation
	sqe := uring.Read(b.file.Fd(), p, uint64(b.off))
	if err := b.ring.QueueSQE(sqe, 0, 0); err != nil {
		return 0, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorReadFailure,
			"failed to queue read request",
			err,
		)
	}

	// Submit and wait
	if _, err := b.ring.Submit(); err != nil {
		return 0, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorReadFailure,
			"failed to submit read request",
			err,
		)
	}

	cqe, err := b.ring.WaitCQEvents(1)
	if err != nil {
		return 0, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorReadFailure,
			"failed to wait for read completion",
			err,
		)
	}

	if err := cqe.Error(); err != nil {
		b.ring.SeenCQE(cqe)
		return 0, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorReadFailure,
			"read operation failed",
			err,
		)
	}

	n := int(cqe.Res)
	b.ring.SeenCQE(cqe)

	if n == 0 {
		return 0, io.EOF
	}

	b.off += int64(n)
	return n, nil
}

// Size returns the size measured at open time
func (b *RingBody) Size() int64 { return b.size }

// Close releases the ring and the file
func (b *RingBody) Close() error {
	if b.ring != nil {
		b.ring.Close()
		b.ring = nil
	}
	return b.file.Close()
}
