package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/gomega"
	"golang.org/x/net/websocket"

	"hellopool/internal/events"
	"hellopool/internal/logger"
	"hellopool/internal/worker"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, bus *events.Bus) (*Server, *worker.Pool) {
	t.Helper()

	quiet := logger.New(io.Discard, logger.LevelError)
	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers: 2,
		Events:     bus,
		Logger:     quiet,
	})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := NewServer(Config{BroadcastInterval: time.Hour, Logger: quiet}, pool, bus)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s, pool
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerNilPool(t *testing.T) {
	if _, err := NewServer(Config{}, nil, nil); err == nil {
		t.Error("expected error for nil pool")
	}
}

func TestHandleStatus(t *testing.T) {
	s, pool := newTestServer(t, nil)

	done := make(chan struct{})
	for range 3 {
		if err := pool.Execute(func() { <-done }); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	g := NewWithT(t)
	g.Eventually(pool.Metrics().Active).Should(BeEquivalentTo(2))

	rec := get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", resp.Workers)
	}
	if resp.Submitted != 3 {
		t.Errorf("expected 3 submitted, got %d", resp.Submitted)
	}
	if resp.Active != 2 {
		t.Errorf("expected 2 active, got %d", resp.Active)
	}
	if resp.Queued != 1 {
		t.Errorf("expected 1 queued, got %d", resp.Queued)
	}
	if resp.Closed {
		t.Error("expected pool to be open")
	}

	close(done)
	pool.Close()

	rec = get(t, s, "/api/status")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Closed {
		t.Error("expected pool to be closed")
	}
	if resp.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", resp.Completed)
	}
}

func TestHandleMetrics(t *testing.T) {
	s, pool := newTestServer(t, nil)

	_ = pool.Execute(func() {})
	_ = pool.Execute(func() { panic("boom") })
	pool.Close()

	rec := get(t, s, "/api/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp MetricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TotalRequests != 2 || resp.SuccessRequests != 1 || resp.FailedRequests != 1 {
		t.Errorf("unexpected counts: %+v", resp)
	}
	if resp.ErrorRate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", resp.ErrorRate)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	s, pool := newTestServer(t, nil)

	for range 3 {
		_ = pool.Execute(func() {})
	}
	pool.Close()

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"hellopool_pool_jobs_submitted_total 3",
		"hellopool_pool_jobs_completed_total 3",
		"hellopool_pool_jobs_active 0",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)

	if rec := get(t, s, "/api/nodes"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestWebSocketForwardsEvents(t *testing.T) {
	g := NewWithT(t)
	bus := events.NewBus()
	defer bus.Close()

	s, _ := newTestServer(t, bus)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	}()

	ws, err := websocket.Dial("ws://"+ln.Addr().String()+"/ws", "", "http://localhost/")
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer ws.Close()

	g.Eventually(s.ClientCount).Should(Equal(1))
	g.Eventually(bus.SubscriberCount).Should(Equal(1))

	bus.Publish(events.NewPoolShutdownEvent(2))

	// ワーカー起動のイベントが先に届くことがある
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			t.Fatalf("failed to receive message: %v", err)
		}

		var got struct {
			Type  string       `json:"type"`
			Event events.Event `json:"event"`
		}
		if err := json.Unmarshal([]byte(msg), &got); err != nil {
			t.Fatalf("failed to decode message %q: %v", msg, err)
		}
		if got.Type != "event" {
			t.Errorf("expected event message, got %q", got.Type)
		}
		if got.Event.Type != events.EventPoolShutdown {
			continue
		}
		if got.Event.Data.Workers != 2 {
			t.Errorf("expected 2 workers in event, got %d", got.Event.Data.Workers)
		}
		return
	}
}

func TestWebSocketBroadcastsStatus(t *testing.T) {
	g := NewWithT(t)
	s, _ := newTestServer(t, nil)
	s.interval = 20 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx, ln) }()

	ws, err := websocket.Dial("ws://"+ln.Addr().String()+"/ws", "", "http://localhost/")
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer ws.Close()

	g.Eventually(s.ClientCount).Should(Equal(1))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg string
	if err := websocket.Message.Receive(ws, &msg); err != nil {
		t.Fatalf("failed to receive message: %v", err)
	}
	if !strings.Contains(msg, `"type":"status"`) || !strings.Contains(msg, `"workers":2`) {
		t.Errorf("unexpected status message: %s", msg)
	}
}
