package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nczempin/httpd-go-uring/client"
	"github.com/nczempin/httpd-go-uring/config"
	httperrors "github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/transport"
)

// setupTestServer serves dir on a loopback listener and returns its address
// and a cleanup func that stops the server and waits for it.
func setupTestServer(t *testing.T, cfg config.Config) (string, func()) {
	t.Helper()

	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		if cfg.IO == transport.ModeUring {
			t.Skipf("io_uring unavailable: %v", err)
		}
		t.Fatalf("New failed: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, listener)
	}()

	cleanup := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not stop")
		}
	}

	return listener.Addr().String(), cleanup
}

func setupRootDir(t *testing.T, content map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, data := range content {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

func testConfig(root string) config.Config {
	cfg := config.Default()
	cfg.Root = root
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func get(t *testing.T, addr, path string) *client.Response {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "tcp", addr, path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func TestServer_ServesFile(t *testing.T) {
	for _, mode := range []transport.Mode{transport.ModeStd, transport.ModeUring} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := testConfig(setupRootDir(t, map[string]string{"greeting.txt": "hi"}))
			cfg.IO = mode
			addr, cleanup := setupTestServer(t, cfg)
			defer cleanup()

			resp := get(t, addr, "/greeting.txt")

			if resp.StatusCode != 200 || resp.Status != "OK" {
				t.Errorf("Expected 200 OK, got %d %s", resp.StatusCode, resp.Status)
			}
			if ct := resp.ContentType; ct != "text/plain" {
				t.Errorf("Expected text/plain, got %q", ct)
			}
			if resp.ContentLength != 2 {
				t.Errorf("Expected Content-Length 2, got %d", resp.ContentLength)
			}
			if string(resp.Body) != "hi" {
				t.Errorf("Expected body %q, got %q", "hi", resp.Body)
			}
		})
	}
}

func TestServer_NotFound(t *testing.T) {
	addr, cleanup := setupTestServer(t, testConfig(setupRootDir(t, nil)))
	defer cleanup()

	resp := get(t, addr, "/nonexistent.html")

	if resp.StatusCode != 404 || resp.Status != "Not Found" {
		t.Errorf("Expected 404 Not Found, got %d %s", resp.StatusCode, resp.Status)
	}
	if ct := resp.ContentType; ct != "text/plain" {
		t.Errorf("Expected text/plain, got %q", ct)
	}
	if string(resp.Body) != "404 Not Found" {
		t.Errorf("Expected body %q, got %q", "404 Not Found", resp.Body)
	}
}

func TestServer_TraversalIsNotFound(t *testing.T) {
	base := setupRootDir(t, map[string]string{"www/index.html": "ok", "secret.txt": "top secret"})
	addr, cleanup := setupTestServer(t, testConfig(filepath.Join(base, "www")))
	defer cleanup()

	for _, path := range []string{"/../secret.txt", "/%2e%2e/secret.txt", "/..%2fsecret.txt", "//" + filepath.ToSlash(filepath.Join(base, "secret.txt"))} {
		resp := get(t, addr, path)
		if resp.StatusCode != 404 {
			t.Errorf("%s: expected 404, got %d with body %q", path, resp.StatusCode, resp.Body)
		}
	}

	if resp := get(t, addr, "/index.html"); resp.StatusCode != 200 || string(resp.Body) != "ok" {
		t.Errorf("Expected index.html to be served, got %d %q", resp.StatusCode, resp.Body)
	}
}

func TestServer_DropsNonGet(t *testing.T) {
	addr, cleanup := setupTestServer(t, testConfig(setupRootDir(t, map[string]string{"x": "x"})))
	defer cleanup()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte("POST /x HTTP/1.1\r\nContent-Length: 0\r\n\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil && !strings.Contains(err.Error(), "reset") {
		t.Fatalf("Read failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected no response, got %q", data)
	}
}

func TestServer_FragmentedRequestLine(t *testing.T) {
	addr, cleanup := setupTestServer(t, testConfig(setupRootDir(t, map[string]string{"split.txt": "joined"})))
	defer cleanup()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	for _, part := range []string{"GET /spl", "it.txt HTTP", "/1.1\r\nHost: x\r\n", "\r\n"} {
		if _, err := conn.Write([]byte(part)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.HasPrefix(string(data), "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(string(data), "\r\n\r\njoined") {
		t.Errorf("Unexpected response %q", data)
	}
}

// rawExchange sends request on a fresh connection without closing it and
// returns everything the server sends until it closes its side.
func rawExchange(t *testing.T, addr, request string) (string, time.Duration) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	start := time.Now()
	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Read failed after %q: %v", data, err)
	}
	return string(data), time.Since(start)
}

func TestServer_RequestLineOnly(t *testing.T) {
	cfg := testConfig(setupRootDir(t, map[string]string{"a.txt": "alpha"}))
	cfg.ReadTimeout = 10 * time.Second
	addr, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	data, elapsed := rawExchange(t, addr, "GET /a.txt HTTP/1.1\r\n")

	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\nConnection: close\r\n\r\nalpha"
	if data != want {
		t.Errorf("Expected %q, got %q", want, data)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Response took %v, the server waited for more than the request line", elapsed)
	}
}

func TestServer_LongHeaderBlock(t *testing.T) {
	addr, cleanup := setupTestServer(t, testConfig(setupRootDir(t, map[string]string{"a.txt": "alpha"})))
	defer cleanup()

	request := "GET /a.txt HTTP/1.1\r\nHost: x\r\nCookie: " + strings.Repeat("c", 70000) + "\r\n\r\n"
	data, _ := rawExchange(t, addr, request)

	if !strings.HasPrefix(data, "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(data, "\r\n\r\nalpha") {
		t.Errorf("Unexpected response %q", data)
	}
}

func TestServer_RequestLineTooLong(t *testing.T) {
	cfg := testConfig(setupRootDir(t, nil))
	cfg.MaxLineBytes = 256
	addr, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	conn.Write([]byte("GET /" + strings.Repeat("a", 300) + " HTTP/1.1\r\n\r\n"))
	data, err := io.ReadAll(conn)
	if err != nil && !strings.Contains(err.Error(), "reset") {
		t.Fatalf("Read failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected no response, got %q", data)
	}
}

// flakyListener fails its first Accept calls the way a process out of
// descriptors does
type flakyListener struct {
	net.Listener
	failures int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures > 0 {
		l.failures--
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)}
	}
	return l.Listener.Accept()
}

func TestServer_SurvivesDescriptorExhaustion(t *testing.T) {
	srv, err := New(testConfig(setupRootDir(t, map[string]string{"a.txt": "alpha"})), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, &flakyListener{Listener: listener, failures: 3})
	}()

	resp := get(t, listener.Addr().String(), "/a.txt")
	if resp.StatusCode != 200 || string(resp.Body) != "alpha" {
		t.Errorf("Expected 200 alpha, got %d %q", resp.StatusCode, resp.Body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Serve did not stop")
	}
}

func TestTemporaryAcceptError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&net.OpError{Op: "accept", Err: os.NewSyscallError("accept", syscall.EMFILE)}, true},
		{&net.OpError{Op: "accept", Err: os.NewSyscallError("accept", syscall.ENFILE)}, true},
		{&net.OpError{Op: "accept", Err: os.NewSyscallError("accept4", syscall.ECONNABORTED)}, true},
		{&net.OpError{Op: "accept", Err: os.ErrDeadlineExceeded}, true},
		{net.ErrClosed, false},
		{&net.OpError{Op: "accept", Err: os.NewSyscallError("accept", syscall.EINVAL)}, false},
	}

	for _, tt := range tests {
		if got := temporaryAcceptError(tt.err); got != tt.want {
			t.Errorf("temporaryAcceptError(%v): expected %v, got %v", tt.err, tt.want, got)
		}
	}
}

func TestServer_ConcurrentRequests(t *testing.T) {
	const n = 32

	content := make(map[string]string, n)
	for i := 0; i < n; i++ {
		content[fmt.Sprintf("file%02d.txt", i)] = strings.Repeat(fmt.Sprintf("<%02d>", i), 1000+i*100)
	}

	cfg := testConfig(setupRootDir(t, content))
	cfg.MaxConns = 8
	addr, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			name := fmt.Sprintf("file%02d.txt", i)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp, err := client.Get(ctx, "tcp", addr, "/"+name)
			if err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				return
			}
			if resp.StatusCode != 200 || string(resp.Body) != content[name] {
				errs <- fmt.Errorf("%s: got status %d and %d bytes of wrong content", name, resp.StatusCode, len(resp.Body))
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestServer_SlowClientTimesOut(t *testing.T) {
	cfg := testConfig(setupRootDir(t, nil))
	cfg.ReadTimeout = 100 * time.Millisecond
	addr, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET /never-finished"))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	start := time.Now()
	data, _ := io.ReadAll(conn)
	if len(data) != 0 {
		t.Errorf("Expected no response, got %q", data)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Server kept the connection open for %v", elapsed)
	}
}

func TestServer_ConnectionCeiling(t *testing.T) {
	cfg := testConfig(setupRootDir(t, map[string]string{"a.txt": "a"}))
	cfg.MaxConns = 1
	cfg.ReadTimeout = 5 * time.Second
	addr, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	// Hold the only slot with a connection that has not sent its request
	holder, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer holder.Close()
	time.Sleep(50 * time.Millisecond)

	result := make(chan *client.Response, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, _ := client.Get(ctx, "tcp", addr, "/a.txt")
		result <- resp
	}()

	select {
	case <-result:
		t.Fatal("Second connection was served while the only slot was taken")
	case <-time.After(200 * time.Millisecond):
	}

	holder.Write([]byte("GET /a.txt HTTP/1.1\r\n\r\n"))

	select {
	case resp := <-result:
		if resp == nil || resp.StatusCode != 200 {
			t.Errorf("Expected the queued request to be served, got %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Queued request was never served")
	}
}

func TestServer_UnixSocket(t *testing.T) {
	cfg := testConfig(setupRootDir(t, map[string]string{"index.htm": "<i>unix</i>"}))
	cfg.Network = "unix"
	cfg.Addr = filepath.Join(t.TempDir(), "httpd.sock")

	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var resp *client.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get(context.Background(), "unix", cfg.Addr, "/index.htm")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET over unix socket failed: %v", err)
	}
	if ct := resp.ContentType; ct != "text/html" || string(resp.Body) != "<i>unix</i>" {
		t.Errorf("Unexpected response %q %q", ct, resp.Body)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MaxConns = 0
	if _, err := New(cfg, nil); err == nil {
		t.Error("Expected error for zero max-conns")
	}

	cfg = testConfig(filepath.Join(t.TempDir(), "missing"))
	if _, err := New(cfg, nil); !httperrors.IsFilesystem(err, httperrors.FilesystemErrorInvalidRoot) {
		t.Errorf("Expected FilesystemErrorInvalidRoot, got %v", err)
	}
}
