package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"hellopool/internal/logger"
	"hellopool/internal/worker"
)

//go:embed views/*
var viewFiles embed.FS

const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 NOT FOUND"

	ViewHello    = "hello.html"
	ViewNotFound = "404.html"
)

var (
	requestIndex = []byte("GET / HTTP/1.1\r\n")
	requestSleep = []byte("GET /sleep HTTP/1.1\r\n")
)

// Config はサーバーの設定
type Config struct {
	Addr           string        // 待ち受けアドレス
	ViewsDir       string        // 空なら埋め込みのビューを使う
	SlowDelay      time.Duration // /sleep の遅延
	ReadBufferSize int           // 1回の読み込みサイズ
	MaxConns       int           // 同時接続数の上限（0で無制限）
	IOTimeout      time.Duration // 接続ごとの読み書き期限（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:7878",
		SlowDelay:      5 * time.Second,
		ReadBufferSize: 1024,
		IOTimeout:      30 * time.Second,
	}
}

// Executor はジョブを受け付ける実行器
type Executor interface {
	Execute(job worker.Job) error
}

// Server は接続ごとにジョブを作ってプールへ渡す TCP サーバー
type Server struct {
	config Config
	exec   Executor
	views  fs.FS
	log    *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	handled  atomic.Uint64
}

// New は新しいサーバーを作成する
func New(config Config, exec Executor) (*Server, error) {
	if exec == nil {
		return nil, errors.New("server: nil executor")
	}

	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}

	views, err := openViews(config.ViewsDir)
	if err != nil {
		return nil, err
	}

	return &Server{
		config: config,
		exec:   exec,
		views:  views,
		log:    logger.Default,
	}, nil
}

func openViews(dir string) (fs.FS, error) {
	var views fs.FS
	if dir == "" {
		sub, err := fs.Sub(viewFiles, "views")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded views: %w", err)
		}
		views = sub
	} else {
		views = os.DirFS(dir)
	}

	for _, name := range []string{ViewHello, ViewNotFound} {
		if _, err := fs.Stat(views, name); err != nil {
			return nil, fmt.Errorf("missing view %s: %w", name, err)
		}
	}
	return views, nil
}

// SetLogger はロガーを差し替える
func (s *Server) SetLogger(l *logger.Logger) {
	s.log = l
}

// ListenAndServe はアドレスで待ち受けて Serve する
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ctx が終了するまで接続を受け付ける。
// 接続の処理はプールで行われるので、戻った後もジョブは実行中のことがある
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
	}()

	s.log.Info("server", "Listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		id := "conn-" + uuid.NewString()[:8]
		if err := s.exec.Execute(func() { s.handleConnection(id, conn) }); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to dispatch connection: %w", err)
		}
	}
}

// Addr は待ち受け中のアドレスを返す。Serve 前は nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handled は応答を返した接続数を返す
func (s *Server) Handled() uint64 {
	return s.handled.Load()
}

func (s *Server) handleConnection(id string, conn net.Conn) {
	defer conn.Close()

	if s.config.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.config.IOTimeout))
	}

	buf := make([]byte, s.config.ReadBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		s.log.Warn(id, "Failed to read request: %v", err)
		return
	}
	request := buf[:n]
	s.log.Debug(id, "Request: %s", strings.ToValidUTF8(string(request), "�"))

	status, view, slow := Route(request)
	if slow {
		time.Sleep(s.config.SlowDelay)
	}

	body, err := fs.ReadFile(s.views, view)
	if err != nil {
		s.log.Error(id, "Failed to read view %s: %v", view, err)
		return
	}

	if _, err := conn.Write(FormatResponse(status, body)); err != nil {
		s.log.Warn(id, "Failed to write response: %v", err)
		return
	}
	s.handled.Add(1)
	s.log.Debug(id, "%s (%s)", status, view)
}

// Route はリクエストの先頭行だけを見て応答を決める
func Route(request []byte) (status, view string, slow bool) {
	switch {
	case bytes.HasPrefix(request, requestIndex):
		return StatusOK, ViewHello, false
	case bytes.HasPrefix(request, requestSleep):
		return StatusOK, ViewHello, true
	default:
		return StatusNotFound, ViewNotFound, false
	}
}

// FormatResponse はステータス行と Content-Length 付きの応答を組み立てる
func FormatResponse(status string, body []byte) []byte {
	header := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n", status, len(body))
	resp := make([]byte, 0, len(header)+len(body))
	resp = append(resp, header...)
	return append(resp, body...)
}
