//go:build !linux

package files

import httperrors "github.com/nczempin/httpd-go-uring/errors"

// NewUringOpener is unavailable outside linux
func NewUringOpener() (Opener, error) {
	return nil, httperrors.NewFilesystemError(
		httperrors.FilesystemErrorOpenFailure,
		"io_uring is only available on linux",
		nil,
	)
}
