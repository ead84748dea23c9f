package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
)

// DefaultMaxLineBytes bounds the request line when no limit is configured
const DefaultMaxLineBytes = 8 << 10

var (
	getPrefix     = []byte("GET /")
	versionPrefix = []byte(" HTTP/1")
)

// ReadRequestLine reads from r until the first line feed and returns the
// request line including it. Header lines that follow are not waited for.
// A request line split over several reads is reassembled. A line longer
// than max bytes is a protocol error; on EOF the bytes received so far are
// returned without error.
func ReadRequestLine(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}

	buffer := make([]byte, 0, 1024)
	readBuf := make([]byte, 1024)

	for {
		n, err := r.Read(readBuf)
		if n > 0 {
			start := len(buffer)
			buffer = append(buffer, readBuf[:n]...)

			// Only the new bytes can hold the first line feed
			if i := bytes.IndexByte(buffer[start:], '\n'); i >= 0 {
				line := buffer[:start+i+1]
				if len(line) > max {
					return line, lineTooLong(max)
				}
				return line, nil
			}
			if len(buffer) >= max {
				return buffer, lineTooLong(max)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buffer, nil
			}
			return buffer, err
		}
	}
}

func lineTooLong(max int) error {
	return httperrors.NewProtocolError(
		httperrors.ProtocolErrorLineTooLong,
		fmt.Sprintf("request line exceeds %d bytes", max),
	)
}

// ParseRequestLine extracts the target of a "GET /<target> HTTP/1" request
// line at the start of raw. The target is returned without its leading slash.
// ok is false for anything else: other methods, malformed lines, empty input.
func ParseRequestLine(raw []byte) (target string, ok bool) {
	if !bytes.HasPrefix(raw, getPrefix) {
		return "", false
	}

	rest := raw[len(getPrefix):]
	end := bytes.IndexByte(rest, ' ')
	if end < 0 {
		return "", false
	}
	if !bytes.HasPrefix(rest[end:], versionPrefix) {
		return "", false
	}

	return string(rest[:end]), true
}
