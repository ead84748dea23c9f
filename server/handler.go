package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/transport"
)

// Outcome is how a single connection ended
type Outcome int

const (
	// OutcomeServed means a 200 response was sent in full
	OutcomeServed Outcome = iota
	// OutcomeNotFound means the 404 response was sent
	OutcomeNotFound
	// OutcomeDropped means the request was not a GET request line and the
	// connection was closed without a response
	OutcomeDropped
	// OutcomeFailed means an I/O error ended the exchange early
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeServed:
		return "served"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// lingerTimeout and lingerBytes bound how long and how much unread
	// request data is discarded after the response
	lingerTimeout = 500 * time.Millisecond
	lingerBytes   = 256 << 10
)

// Handler runs the request pipeline for one connection at a time.
// It holds no per-request state and is safe for concurrent use.
type Handler struct {
	builder      *protocol.Builder
	logger       *slog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxLineBytes int
}

// Handle reads one request from t, answers it and closes t.
func (h *Handler) Handle(t transport.Transport) Outcome {
	defer t.Close()

	start := time.Now()
	remote := t.RemoteAddr()

	if h.readTimeout > 0 {
		if err := t.SetDeadline(start.Add(h.readTimeout)); err != nil {
			h.logger.Warn("failed to set read deadline", "remote", remote, "error", err)
			return OutcomeFailed
		}
	}

	raw, err := protocol.ReadRequestLine(t, h.maxLineBytes)
	if err != nil {
		var he *httperrors.HttpError
		if errors.As(err, &he) && he.Type == httperrors.ErrorProtocol {
			h.logger.Debug("dropping connection, request line too long", "remote", remote, "error", err)
			return OutcomeDropped
		}
		h.logger.Warn("request line not received", "remote", remote, "error", err)
		return OutcomeFailed
	}

	target, ok := protocol.ParseRequestLine(raw)
	if !ok {
		h.logger.Debug("dropping connection, not a GET request", "remote", remote, "bytes", len(raw))
		return OutcomeDropped
	}

	path := protocol.DecodePath(target)
	mimeType := protocol.ResolveMIME(protocol.Extension(path))

	response := h.builder.Build(path, mimeType)
	defer response.Close()

	if h.writeTimeout > 0 {
		if err := t.SetDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			h.logger.Warn("failed to set write deadline", "remote", remote, "path", path, "error", err)
			return OutcomeFailed
		}
	}

	n, err := response.WriteTo(t)
	if err != nil {
		h.logger.Warn("response aborted",
			"remote", remote,
			"path", path,
			"status", response.Kind().String(),
			"bytes", n,
			"error", err,
		)
		return OutcomeFailed
	}

	outcome := OutcomeServed
	if response.Kind() == protocol.KindNotFound {
		outcome = OutcomeNotFound
	}

	attrs := []any{
		"remote", remote,
		"path", path,
		"status", response.Kind().String(),
		"content_type", response.ContentType(),
		"bytes", n,
		"duration", time.Since(start),
	}
	if cause := response.Err(); cause != nil {
		attrs = append(attrs, "cause", cause)
	}
	h.logger.Info("request", attrs...)

	h.linger(t)
	return outcome
}

// linger half-closes t and discards what the peer still sends, such as
// header lines after the request line, before the connection is closed.
// Closing with unread data would reset the connection under the response.
func (h *Handler) linger(t transport.Transport) {
	if err := t.CloseWrite(); err != nil {
		h.logger.Debug("half-close failed", "remote", t.RemoteAddr(), "error", err)
		return
	}
	if err := t.SetDeadline(time.Now().Add(lingerTimeout)); err != nil {
		return
	}
	io.CopyN(io.Discard, t, lingerBytes)
}
