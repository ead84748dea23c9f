// Package config holds the server settings and their command-line flags.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	httperrors "github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/transport"
)

// Config is the complete server configuration
type Config struct {
	Network      string
	Addr         string
	Root         string
	MaxConns     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxLineBytes int
	IO           transport.Mode
	LogLevel     slog.Level

	// Probe, when set, makes the binary fetch this path from Addr and exit
	Probe string
}

// Default returns the configuration used when no flags are given
func Default() Config {
	return Config{
		Network:      "tcp",
		Addr:         ":8080",
		Root:         ".",
		MaxConns:     128,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxLineBytes: protocol.DefaultMaxLineBytes,
		IO:           transport.ModeStd,
		LogLevel:     slog.LevelInfo,
	}
}

// Parse builds a Config from command-line arguments (without the program name)
func Parse(name string, args []string, output io.Writer) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Network, "network", cfg.Network, "listen network: tcp or unix")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address, or socket path for unix")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory to serve files from")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "maximum number of connections handled at once")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "time allowed to receive the request line")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "time allowed to send the response")
	fs.IntVar(&cfg.MaxLineBytes, "max-line-bytes", cfg.MaxLineBytes, "longest accepted request line")
	fs.StringVar(&cfg.Probe, "probe", "", "fetch this path from -addr, print the status and exit")
	ioMode := fs.String("io", string(cfg.IO), "socket and file I/O: std or uring")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, httperrors.NewInvalidArgumentError(fmt.Sprintf("unexpected arguments: %s", strings.Join(fs.Args(), " ")))
	}

	mode, err := transport.ParseMode(*ioMode)
	if err != nil {
		return cfg, httperrors.NewInvalidArgumentError(err.Error())
	}
	cfg.IO = mode

	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return cfg, httperrors.NewInvalidArgumentError(fmt.Sprintf("invalid log level %q", *logLevel))
	}

	return cfg, cfg.Validate()
}

// Validate reports the first setting that cannot work
func (c Config) Validate() error {
	switch {
	case c.Network != "tcp" && c.Network != "unix":
		return httperrors.NewInvalidArgumentError(fmt.Sprintf("network must be tcp or unix, got %q", c.Network))
	case c.Addr == "":
		return httperrors.NewInvalidArgumentError("addr must not be empty")
	case c.Root == "":
		return httperrors.NewInvalidArgumentError("root must not be empty")
	case c.MaxConns <= 0:
		return httperrors.NewInvalidArgumentError("max-conns must be positive")
	case c.ReadTimeout <= 0 || c.WriteTimeout <= 0:
		return httperrors.NewInvalidArgumentError("timeouts must be positive")
	case c.MaxLineBytes < len("GET / HTTP/1.0\n"):
		return httperrors.NewInvalidArgumentError("max-line-bytes is too small to hold a request line")
	}
	if _, err := transport.ParseMode(string(c.IO)); err != nil {
		return httperrors.NewInvalidArgumentError(err.Error())
	}
	return nil
}
