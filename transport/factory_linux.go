//go:build linux

package transport

import (
	"io"
	"net"

	"github.com/iceber/iouring-go"
	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

func newUringWrapper() (io.Closer, func(net.Conn) (Transport, error), error) {
	iour, err := iouring.New(queueDepth)
	if err != nil {
		return nil, nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	wrap := func(conn net.Conn) (Transport, error) {
		t, err := NewUringTransport(iour, conn)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return ringCloser{iour}, wrap, nil
}

type ringCloser struct {
	iour *iouring.IOURing
}

func (c ringCloser) Close() error {
	c.iour.Close()
	return nil
}
