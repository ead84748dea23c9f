// Package client is a minimal HTTP/1.1 GET client for talking to the server:
// smoke checks from the command line and end-to-end tests.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/nczempin/httpd-go-uring/errors"
)

var headerEnd = []byte("\r\n\r\n")

// Response is a fully received response. Only the fields the server
// emits are kept.
type Response struct {
	StatusCode  int
	Status      string
	ContentType string
	// ContentLength is -1 when the response carried no Content-Length
	ContentLength int
	Body          []byte
}

// Get connects to addr, requests path and reads the response until
// Content-Length bytes of body arrived or the server closed the connection.
func Get(ctx context.Context, network, addr, path string) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errors.NewInvalidArgumentError("path must start with /")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.NewTransportError(errors.TransportErrorConnectFailure, "failed to connect to "+addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", path, addr)
	if _, err := io.WriteString(conn, request); err != nil {
		return nil, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}

	return readResponse(conn)
}

func readResponse(r io.Reader) (*Response, error) {
	var (
		buffer    []byte
		resp      *Response
		bodyStart int
	)
	readBuf := make([]byte, 4096)

	for {
		n, err := r.Read(readBuf)
		buffer = append(buffer, readBuf[:n]...)

		if resp == nil {
			if end := bytes.Index(buffer, headerEnd); end >= 0 {
				head, perr := parseHead(string(buffer[:end]))
				if perr != nil {
					return nil, perr
				}
				resp, bodyStart = head, end+len(headerEnd)
			}
		}
		if resp != nil && resp.ContentLength >= 0 && len(buffer)-bodyStart >= resp.ContentLength {
			resp.Body = buffer[bodyStart : bodyStart+resp.ContentLength]
			return resp, nil
		}

		if err != nil {
			if err != io.EOF {
				return nil, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
			}
			break
		}
	}

	switch {
	case len(buffer) == 0:
		return nil, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed without a response", nil)
	case resp == nil:
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidStatusLine, "connection closed inside the response header")
	case resp.ContentLength >= 0:
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorIncompleteResponse,
			fmt.Sprintf("got %d of %d body bytes", len(buffer)-bodyStart, resp.ContentLength),
		)
	}

	// Framed by connection close
	resp.Body = buffer[bodyStart:]
	return resp, nil
}

// parseHead reads the status line, Content-Type and Content-Length
func parseHead(head string) (*Response, error) {
	lines := strings.Split(head, "\r\n")

	version, rest, _ := strings.Cut(lines[0], " ")
	code, status, _ := strings.Cut(rest, " ")
	statusCode, err := strconv.Atoi(code)
	if !strings.HasPrefix(version, "HTTP/1.") || err != nil {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidStatusLine, fmt.Sprintf("invalid status line %q", lines[0]))
	}

	resp := &Response{StatusCode: statusCode, Status: status, ContentLength: -1}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case strings.EqualFold(key, "Content-Type"):
			resp.ContentType = value
		case strings.EqualFold(key, "Content-Length"):
			length, err := strconv.Atoi(value)
			if err != nil || length < 0 {
				return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, fmt.Sprintf("invalid Content-Length %q", value))
			}
			resp.ContentLength = length
		}
	}

	return resp, nil
}
