package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"hellopool/internal/logger"
	"hellopool/internal/server"
	"hellopool/internal/worker"
)

var quiet = logger.New(io.Discard, logger.LevelError)

// startServer はテスト用の hello サーバーを起動する
func startServer(t *testing.T, ln net.Listener, slowDelay time.Duration, size int) {
	t.Helper()

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{NumWorkers: size, Logger: quiet})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	cfg := server.DefaultConfig()
	cfg.SlowDelay = slowDelay
	srv, err := server.New(cfg, pool)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.SetLogger(quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		pool.Close()
	})
}

func listen(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	return ln
}

func newClient(t *testing.T, config Config) *Client {
	t.Helper()

	c, err := New(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	c.SetLogger(quiet)
	return c
}

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Target != "127.0.0.1:7878" {
		t.Errorf("expected Target 127.0.0.1:7878, got %s", config.Target)
	}
	if config.Concurrency != 4 {
		t.Errorf("expected Concurrency 4, got %d", config.Concurrency)
	}
	if config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", config.MaxRetries)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty target", func(c *Config) { c.Target = "" }},
		{"negative requests", func(c *Config) { c.Requests = -1 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"negative slow ratio", func(c *Config) { c.SlowRatio = -0.1 }},
		{"ratios above one", func(c *Config) { c.SlowRatio = 0.6; c.MissingRatio = 0.6 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			if _, err := New(config); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRequest(t *testing.T) {
	tests := []struct {
		req    Request
		name   string
		line   string
		status string
	}{
		{RequestIndex, "index", "GET / HTTP/1.1", server.StatusOK},
		{RequestSleep, "sleep", "GET /sleep HTTP/1.1", server.StatusOK},
		{RequestMissing, "missing", "GET /missing HTTP/1.1", server.StatusNotFound},
		{Request(99), "unknown", "GET / HTTP/1.1", server.StatusOK},
	}

	for _, tt := range tests {
		if got := tt.req.String(); got != tt.name {
			t.Errorf("String() = %s, want %s", got, tt.name)
		}
		if got := tt.req.Line(); got != tt.line {
			t.Errorf("%s: Line() = %s, want %s", tt.name, got, tt.line)
		}
		if got := tt.req.ExpectedStatus(); got != tt.status {
			t.Errorf("%s: ExpectedStatus() = %s, want %s", tt.name, got, tt.status)
		}
	}
}

func TestClientRun(t *testing.T) {
	ln := listen(t)
	startServer(t, ln, 0, 2)

	config := DefaultConfig()
	config.Target = ln.Addr().String()
	config.Requests = 20
	config.MissingRatio = 0.5
	c := newClient(t, config)

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if snap.TotalRequests != 20 {
		t.Errorf("expected 20 requests, got %d", snap.TotalRequests)
	}
	if snap.FailedRequests != 0 {
		t.Errorf("expected no failures, got %d", snap.FailedRequests)
	}
	if c.Dialed() != 20 {
		t.Errorf("expected 20 connections, got %d", c.Dialed())
	}
	if c.IsRunning() {
		t.Error("expected client to not be running after Run")
	}
}

func TestClientRunSlowRequests(t *testing.T) {
	ln := listen(t)
	startServer(t, ln, 100*time.Millisecond, 4)

	config := DefaultConfig()
	config.Target = ln.Addr().String()
	config.Requests = 4
	config.SlowRatio = 1
	config.MissingRatio = 0
	c := newClient(t, config)

	start := time.Now()
	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	elapsed := time.Since(start)

	if snap.SuccessRequests != 4 {
		t.Errorf("expected 4 successful requests, got %d", snap.SuccessRequests)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("expected at least 100ms, got %v", elapsed)
	}
	// 4並列なので直列の 400ms よりは短い
	if elapsed >= 400*time.Millisecond {
		t.Errorf("expected slow requests to overlap, took %v", elapsed)
	}
	if snap.AverageLatency < 100*time.Millisecond {
		t.Errorf("expected average latency at least 100ms, got %v", snap.AverageLatency)
	}
}

func TestClientUnreachable(t *testing.T) {
	ln := listen(t)
	addr := ln.Addr().String()
	_ = ln.Close()

	config := DefaultConfig()
	config.Target = addr
	config.Requests = 2
	config.MaxRetries = 1
	config.RetryInterval = 10 * time.Millisecond
	c := newClient(t, config)

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if snap.FailedRequests != 2 {
		t.Errorf("expected 2 failures, got %d", snap.FailedRequests)
	}
	if c.Dialed() != 0 {
		t.Errorf("expected no connections, got %d", c.Dialed())
	}
}

func TestClientRetriesUntilServerUp(t *testing.T) {
	ln := listen(t)
	addr := ln.Addr().String()
	_ = ln.Close()

	config := DefaultConfig()
	config.Target = addr
	config.MaxRetries = 20
	config.RetryInterval = 20 * time.Millisecond
	c := newClient(t, config)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Do(context.Background(), RequestIndex) }()

	time.Sleep(100 * time.Millisecond)
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s was taken before the server could restart: %v", addr, err)
	}
	startServer(t, ln2, 0, 1)

	g := NewWithT(t)
	g.Eventually(errCh, 5*time.Second).Should(Receive(BeNil()))
}

func TestClientUnexpectedStatus(t *testing.T) {
	ln := listen(t)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 1024)
			_, _ = conn.Read(buf)
			_, _ = io.WriteString(conn, "HTTP/1.1 500 INTERNAL ERROR\r\nContent-Length: 0\r\n\r\n")
			_ = conn.Close()
		}
	}()

	config := DefaultConfig()
	config.Target = ln.Addr().String()
	c := newClient(t, config)

	err := c.Do(context.Background(), RequestIndex)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestClientCanceledContext(t *testing.T) {
	ln := listen(t)
	startServer(t, ln, 0, 1)

	config := DefaultConfig()
	config.Target = ln.Addr().String()
	c := newClient(t, config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if snap.TotalRequests != 0 {
		t.Errorf("expected no requests after cancel, got %d", snap.TotalRequests)
	}
}
