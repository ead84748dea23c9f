package protocol

import (
	"fmt"
	"io"
	"os"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/files"
)

// Kind distinguishes the two responses the server can send
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "200 OK"
	case KindNotFound:
		return "404 Not Found"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const notFoundBody = "404 Not Found"

// Response is either a file to stream or the fixed not-found reply
type Response struct {
	kind        Kind
	contentType string
	size        int64
	body        files.Body
	// err is why the file could not be served, for logging only
	err error
}

// Builder turns decoded request paths into responses against a server root
type Builder struct {
	Root *files.Root
}

// NewBuilder creates a builder serving from root
func NewBuilder(root *files.Root) *Builder {
	return &Builder{Root: root}
}

// Build opens decodedPath under the root. Any failure, whether the file is
// missing, unreadable, a directory or outside the root, yields NotFound.
func (b *Builder) Build(decodedPath, mimeType string) *Response {
	body, err := b.Root.Open(decodedPath)
	if err != nil {
		r := NotFound()
		r.err = err
		return r
	}
	return &Response{kind: KindOK, contentType: mimeType, size: body.Size(), body: body}
}

// NotFound returns the fixed 404 response
func NotFound() *Response {
	return &Response{kind: KindNotFound, contentType: "text/plain", size: int64(len(notFoundBody))}
}

// Kind reports which variant r is
func (r *Response) Kind() Kind {
	return r.kind
}

// ContentType returns the value of the Content-Type header
func (r *Response) ContentType() string {
	return r.contentType
}

// ContentLength returns the number of body bytes WriteTo sends
func (r *Response) ContentLength() int64 {
	return r.size
}

// Err returns the reason a NotFound response was built, if any
func (r *Response) Err() error {
	return r.err
}

// Header formats the status line and headers including the blank line
func (r *Response) Header() []byte {
	buffer := make([]byte, 0, 128)
	buffer = append(buffer, fmt.Sprintf("HTTP/1.1 %s\r\n", r.kind)...)
	buffer = append(buffer, fmt.Sprintf("Content-Type: %s\r\n", r.contentType)...)
	buffer = append(buffer, fmt.Sprintf("Content-Length: %d\r\n", r.ContentLength())...)
	buffer = append(buffer, "Connection: close\r\n\r\n"...)
	return buffer
}

// WriteTo writes the header and then streams exactly ContentLength body bytes.
// If the file yields fewer bytes than it had when opened, a filesystem error
// is returned and the caller must drop the connection.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	if r.kind == KindNotFound {
		n, err := w.Write(append(r.Header(), notFoundBody...))
		return int64(n), err
	}

	if r.body == nil {
		return 0, httperrors.NewFilesystemError(httperrors.FilesystemErrorReadFailure, "response already closed", nil)
	}

	written, err := w.Write(r.Header())
	total := int64(written)
	if err != nil {
		return total, err
	}

	var src io.Reader = r.body
	if fb, ok := r.body.(interface{ File() *os.File }); ok {
		src = fb.File()
	}

	size := r.size
	n, err := io.CopyN(w, src, size)
	total += n
	if err == io.EOF {
		return total, httperrors.NewFilesystemError(
			httperrors.FilesystemErrorReadFailure,
			fmt.Sprintf("file shrank to %d of %d bytes while sending", n, size),
			err,
		)
	}
	return total, err
}

// Close releases the file behind an OK response
func (r *Response) Close() error {
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	return err
}
