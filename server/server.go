// Package server accepts connections and runs the request pipeline on each
// of them, with a ceiling on how many run at once.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/nczempin/httpd-go-uring/config"
	httperrors "github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/files"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/transport"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server serves files from a root directory, one request per connection
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	root    *files.Root
	factory *transport.Factory
	handler *Handler

	// slots bounds the number of live connections
	slots chan struct{}
	wg    sync.WaitGroup
}

// New validates cfg, opens the server root and prepares the I/O backend
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opener files.Opener = files.OSOpener{}
	if cfg.IO == transport.ModeUring {
		o, err := files.NewUringOpener()
		if err != nil {
			return nil, err
		}
		opener = o
	}

	root, err := files.NewRoot(cfg.Root, opener)
	if err != nil {
		return nil, err
	}

	factory, err := transport.NewFactory(cfg.IO)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		root:    root,
		factory: factory,
		handler: &Handler{
			builder:      protocol.NewBuilder(root),
			logger:       logger,
			readTimeout:  cfg.ReadTimeout,
			writeTimeout: cfg.WriteTimeout,
			maxLineBytes: cfg.MaxLineBytes,
		},
		slots: make(chan struct{}, cfg.MaxConns),
	}, nil
}

// Root returns the canonical directory files are served from
func (s *Server) Root() string {
	return s.root.Dir()
}

// ListenAndServe listens on the configured network and address and serves
// until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.Network == "unix" {
		// A stale socket file from a previous run would make Listen fail
		if err := os.Remove(s.cfg.Addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return httperrors.NewTransportError(httperrors.TransportErrorListenFailure, "failed to remove stale socket", err)
		}
	}

	ln, err := net.Listen(s.cfg.Network, s.cfg.Addr)
	if err != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorListenFailure, "failed to listen on "+s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or ln fails.
// A slot is taken before each Accept, so at most MaxConns connections are
// open at any time. Serve closes ln and waits for running handlers before
// returning; a cancelled ctx is not reported as an error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.factory.Close()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	s.logger.Info("serving",
		"network", ln.Addr().Network(),
		"addr", ln.Addr().String(),
		"root", s.root.Dir(),
		"io", string(s.factory.Mode()),
		"max_conns", s.cfg.MaxConns,
	)

	defer s.wg.Wait()

	var backoff time.Duration
	for {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			ln.Close()
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.slots
			if ctx.Err() != nil {
				return nil
			}
			if !temporaryAcceptError(err) {
				return httperrors.NewTransportError(httperrors.TransportErrorAcceptFailure, "accept failed", err)
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.logger.Warn("temporary accept failure", "error", err, "retry_in", backoff)

			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		<-s.slots
		s.wg.Done()
	}()

	t, err := s.factory.Wrap(conn)
	if err != nil {
		s.logger.Warn("failed to set up connection", "error", err)
		return
	}
	s.handler.Handle(t)
}

// temporaryAcceptError reports whether Accept may succeed when retried:
// descriptor or buffer exhaustion, a connection aborted before it was
// accepted, or a timeout.
func temporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
