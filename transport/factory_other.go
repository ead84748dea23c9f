//go:build !linux

package transport

import (
	"io"
	"net"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

func newUringWrapper() (io.Closer, func(net.Conn) (Transport, error), error) {
	return nil, nil, httperrors.NewTransportError(
		httperrors.TransportErrorIoUringInit,
		"io_uring is only available on linux",
		nil,
	)
}
