package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"hellopool/internal/events"
	"hellopool/internal/logger"
	"hellopool/internal/metrics"
)

const (
	metricsNamespace = "hellopool"
	metricsSubsystem = "pool"
)

// PoolStatus は管理 API が参照するプールの状態
type PoolStatus interface {
	NumWorkers() int
	QueueSize() int
	Closed() bool
	Metrics() *metrics.Metrics
}

// Config は管理 API サーバーの設定
type Config struct {
	Addr              string
	BroadcastInterval time.Duration // ステータス配信間隔（0で1秒）
	Logger            *logger.Logger
}

// Server は管理 API サーバー
type Server struct {
	addr     string
	interval time.Duration
	pool     PoolStatus
	bus      *events.Bus
	log      *logger.Logger
	registry *prometheus.Registry
	engine   *gin.Engine

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool
	listener  net.Listener

	server *http.Server
}

// NewServer は新しい管理 API サーバーを作成する
func NewServer(config Config, pool PoolStatus, bus *events.Bus) (*Server, error) {
	if pool == nil {
		return nil, errors.New("api: nil pool")
	}

	s := &Server{
		addr:      config.Addr,
		interval:  config.BroadcastInterval,
		pool:      pool,
		bus:       bus,
		log:       config.Logger,
		registry:  prometheus.NewRegistry(),
		wsClients: make(map[*websocket.Conn]bool),
	}
	if s.interval <= 0 {
		s.interval = time.Second
	}
	if s.log == nil {
		s.log = logger.Default
	}

	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := pool.Metrics().Register(s.registry, metricsNamespace, metricsSubsystem); err != nil {
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}

	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	zl := s.log.Zap().Named("api")
	engine.Use(ginzap.Ginzap(zl, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(zl, true))

	api := engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/metrics", s.handleMetrics)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	engine.GET("/ws", gin.WrapH(websocket.Handler(s.handleWebSocket)))

	return engine
}

// Handler は HTTP ハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Registry はメトリクスのレジストリを返す
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start はアドレスで待ち受けてサーバーを開始する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ctx が終了するまでリクエストを処理する
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	// バックグラウンドでステータスとイベントを配信
	go s.broadcastLoop(ctx)
	go s.forwardEvents(ctx)

	s.log.Info("api", "API Server starting on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr は待ち受け中のアドレスを返す。Serve 前は nil
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Workers    int    `json:"workers"`
	Queued     int    `json:"queued"`
	Active     int64  `json:"active"`
	PeakActive int64  `json:"peak_active"`
	Submitted  uint64 `json:"submitted"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Closed     bool   `json:"closed"`
}

func (s *Server) status() StatusResponse {
	m := s.pool.Metrics()
	return StatusResponse{
		Workers:    s.pool.NumWorkers(),
		Queued:     s.pool.QueueSize(),
		Active:     m.Active(),
		PeakActive: m.PeakActive(),
		Submitted:  m.Submitted(),
		Completed:  m.SuccessRequests(),
		Failed:     m.FailedRequests(),
		Closed:     s.pool.Closed(),
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	RPS             float64 `json:"rps"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	P99LatencyMs    float64 `json:"p99_latency_ms"`
	ErrorRate       float64 `json:"error_rate"`
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap := s.pool.Metrics().Snapshot()
	c.JSON(http.StatusOK, MetricsResponse{
		TotalRequests:   snap.TotalRequests,
		SuccessRequests: snap.SuccessRequests,
		FailedRequests:  snap.FailedRequests,
		RPS:             snap.RPS,
		AvgLatencyMs:    float64(snap.AverageLatency) / float64(time.Millisecond),
		P99LatencyMs:    float64(snap.P99Latency) / float64(time.Millisecond),
		ErrorRate:       snap.ErrorRate,
	})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中の WebSocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		s.log.Error("api", "Failed to encode broadcast: %v", err)
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

// forwardEvents はプールのイベントを WebSocket クライアントへ流す
func (s *Server) forwardEvents(ctx context.Context) {
	if s.bus == nil {
		return
	}
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": e,
			})
		}
	}
}
