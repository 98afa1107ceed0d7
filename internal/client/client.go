package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"hellopool/internal/logger"
	"hellopool/internal/metrics"
	"hellopool/internal/worker"
)

// ErrUnexpectedStatus は期待と異なるステータス行が返ったときのエラー
var ErrUnexpectedStatus = errors.New("client: unexpected status")

const (
	statusOK       = "HTTP/1.1 200 OK"
	statusNotFound = "HTTP/1.1 404 NOT FOUND"
)

// Request はクライアントが送るリクエストの種類
type Request int

const (
	RequestIndex Request = iota
	RequestSleep
	RequestMissing
)

// String はリクエストの種類を文字列で返す
func (r Request) String() string {
	switch r {
	case RequestIndex:
		return "index"
	case RequestSleep:
		return "sleep"
	case RequestMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Line はリクエスト行を返す
func (r Request) Line() string {
	switch r {
	case RequestSleep:
		return "GET /sleep HTTP/1.1"
	case RequestMissing:
		return "GET /missing HTTP/1.1"
	default:
		return "GET / HTTP/1.1"
	}
}

// ExpectedStatus はサーバーが返すべきステータス行
func (r Request) ExpectedStatus() string {
	if r == RequestMissing {
		return statusNotFound
	}
	return statusOK
}

// Config はClientの設定
type Config struct {
	Target        string        // 接続先アドレス
	Requests      int           // 送信するリクエスト数
	Concurrency   int           // 同時接続数（プールのワーカー数）
	SlowRatio     float64       // /sleep の比率（0.0〜1.0）
	MissingRatio  float64       // 存在しないパスの比率（0.0〜1.0）
	MaxRetries    uint          // 接続失敗時の再試行回数
	RetryInterval time.Duration // 最初の再試行までの間隔
	Timeout       time.Duration // 1リクエストの読み書き期限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Target:        "127.0.0.1:7878",
		Requests:      100,
		Concurrency:   4,
		SlowRatio:     0,
		MissingRatio:  0.1,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		Timeout:       10 * time.Second,
	}
}

// Client は負荷生成器
type Client struct {
	config  Config
	metrics *metrics.Metrics
	log     *logger.Logger

	running atomic.Bool
	dialed  atomic.Uint64
}

// New は新しいClientを作成する
func New(config Config) (*Client, error) {
	if config.Target == "" {
		return nil, errors.New("client: target is required")
	}
	if config.Requests < 0 {
		return nil, fmt.Errorf("client: requests must not be negative, got %d", config.Requests)
	}
	if config.Concurrency <= 0 {
		return nil, fmt.Errorf("client: concurrency must be greater than zero, got %d", config.Concurrency)
	}
	if config.SlowRatio < 0 || config.MissingRatio < 0 || config.SlowRatio+config.MissingRatio > 1 {
		return nil, fmt.Errorf("client: invalid ratios slow=%.2f missing=%.2f", config.SlowRatio, config.MissingRatio)
	}

	return &Client{
		config:  config,
		metrics: metrics.New(),
		log:     logger.Default,
	}, nil
}

// SetLogger はロガーを差し替える
func (c *Client) SetLogger(l *logger.Logger) {
	c.log = l
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Dialed は確立した接続数を返す
func (c *Client) Dialed() uint64 {
	return c.dialed.Load()
}

// Run は設定された数のリクエストを送り、全て終わるまで待つ。
// ctx が終了すると残りのリクエストは送らない
func (c *Client) Run(ctx context.Context) (*metrics.Snapshot, error) {
	if c.running.Swap(true) {
		return nil, errors.New("client: already running")
	}
	defer c.running.Store(false)

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers: c.config.Concurrency,
		Logger:     c.log,
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("client", "Client started (target: %s, requests: %d, concurrency: %d)",
		c.config.Target, c.config.Requests, c.config.Concurrency)

	var submitErr error
	for range c.config.Requests {
		if ctx.Err() != nil {
			break
		}
		if err := pool.Execute(c.createJob(ctx, c.pick())); err != nil {
			submitErr = err
			break
		}
	}

	pool.Close()

	snapshot := c.metrics.Snapshot()
	c.log.Info("client", "Client finished: %d requests, %d failed", snapshot.TotalRequests, snapshot.FailedRequests)
	return &snapshot, submitErr
}

// pick は比率に従ってリクエストの種類を選ぶ
func (c *Client) pick() Request {
	r := rand.Float64()
	switch {
	case r < c.config.SlowRatio:
		return RequestSleep
	case r < c.config.SlowRatio+c.config.MissingRatio:
		return RequestMissing
	default:
		return RequestIndex
	}
}

// createJob はリクエストジョブを作成する
func (c *Client) createJob(ctx context.Context, req Request) worker.Job {
	return func() {
		start := time.Now()
		err := c.Do(ctx, req)
		latency := time.Since(start)
		if err != nil {
			c.log.Warn("client", "%s request failed: %v", req, err)
			c.metrics.RecordFailure(latency)
			return
		}
		c.metrics.RecordSuccess(latency)
	}
}

// Do は1リクエストを送り、ステータス行を検証する
func (c *Client) Do(ctx context.Context, req Request) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if c.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	}

	if _, err := io.WriteString(conn, req.Line()+"\r\nHost: "+c.config.Target+"\r\n\r\n"); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	status, _, _ := strings.Cut(string(resp), "\r\n")
	if status != req.ExpectedStatus() {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedStatus, status, req.ExpectedStatus())
	}
	return nil
}

// dial は指数バックオフで再試行しながら接続する
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	if c.config.RetryInterval > 0 {
		b.InitialInterval = c.config.RetryInterval
	}

	dialer := &net.Dialer{Timeout: c.config.Timeout}
	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", c.config.Target)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.config.MaxRetries+1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.config.Target, err)
	}
	c.dialed.Add(1)
	return conn, nil
}
