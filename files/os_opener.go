package files

import (
	"os"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

// OSOpener opens files with the os package
type OSOpener struct{}

// Open opens path read-only. Only regular files are accepted.
func (OSOpener) Open(path string) (Body, error) {
	f, size, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	return &FileBody{file: f, size: size}, nil
}

// FileBody is a Body backed directly by an *os.File
type FileBody struct {
	file *os.File
	size int64
}

func (b *FileBody) Read(p []byte) (int, error) {
	return b.file.Read(p)
}

// Size returns the size measured at open time
func (b *FileBody) Size() int64 { return b.size }

// File exposes the descriptor so copies into a socket can use sendfile
func (b *FileBody) File() *os.File { return b.file }

func (b *FileBody) Close() error {
	return b.file.Close()
}

func openRegular(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, httperrors.NewFilesystemError(httperrors.FilesystemErrorOpenFailure, "failed to open file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, httperrors.NewFilesystemError(httperrors.FilesystemErrorOpenFailure, "failed to stat file", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, httperrors.NewFilesystemError(httperrors.FilesystemErrorNotRegular, path+" is not a regular file", nil)
	}

	return f, info.Size(), nil
}
