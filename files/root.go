// Package files confines request paths to a server root and opens the
// regular files beneath it.
package files

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

// Body is an open file ready to be streamed into a response
type Body interface {
	io.Reader
	io.Closer
	// Size is the file size measured when it was opened
	Size() int64
}

// Opener opens an already resolved absolute path
type Opener interface {
	Open(path string) (Body, error)
}

// Root is a canonical server root directory. Every path handed out by
// Resolve lies inside it, after symlinks are evaluated.
type Root struct {
	dir    string
	opener Opener
}

// NewRoot canonicalizes dir and binds it to opener.
// A nil opener means OSOpener.
func NewRoot(dir string, opener Opener) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, httperrors.NewFilesystemError(httperrors.FilesystemErrorInvalidRoot, "failed to resolve root", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, httperrors.NewFilesystemError(httperrors.FilesystemErrorInvalidRoot, "failed to resolve root", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, httperrors.NewFilesystemError(httperrors.FilesystemErrorInvalidRoot, "failed to stat root", err)
	}
	if !info.IsDir() {
		return nil, httperrors.NewFilesystemError(httperrors.FilesystemErrorInvalidRoot, canonical+" is not a directory", nil)
	}

	if opener == nil {
		opener = OSOpener{}
	}
	return &Root{dir: canonical, opener: opener}, nil
}

// Dir returns the canonical root directory
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a decoded, root-relative request path to an absolute path
// inside the root. Absolute request paths are treated as relative to the root.
func (r *Root) Resolve(rel string) (string, error) {
	if strings.IndexByte(rel, 0) >= 0 {
		return "", httperrors.NewFilesystemError(httperrors.FilesystemErrorOpenFailure, "path contains NUL byte", nil)
	}

	joined := filepath.Join(r.dir, filepath.FromSlash(rel))
	if !r.contains(joined) {
		return "", httperrors.NewFilesystemError(httperrors.FilesystemErrorOutsideRoot, rel+" escapes the root", nil)
	}

	// Symlinks inside the root may still point outside it
	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", httperrors.NewFilesystemError(httperrors.FilesystemErrorOpenFailure, "failed to resolve "+rel, err)
	}
	if !r.contains(real) {
		return "", httperrors.NewFilesystemError(httperrors.FilesystemErrorOutsideRoot, rel+" links outside the root", nil)
	}

	return real, nil
}

// Open resolves rel and opens it through the root's Opener
func (r *Root) Open(rel string) (Body, error) {
	path, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return r.opener.Open(path)
}

func (r *Root) contains(path string) bool {
	if path == r.dir {
		return true
	}
	prefix := r.dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
