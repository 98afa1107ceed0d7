package worker

import (
	"errors"
	"fmt"
	"sync"

	"hellopool/internal/events"
	"hellopool/internal/logger"
	"hellopool/internal/metrics"
	"hellopool/internal/queue"
)

var (
	// ErrInvalidSize はワーカー数が 0 以下のときに返される
	ErrInvalidSize = errors.New("worker: pool size must be greater than zero")
	// ErrPoolClosed は Close 開始後の Execute で返される
	ErrPoolClosed = errors.New("worker: pool is closed")
	// ErrNilJob は nil ジョブの Execute で返される
	ErrNilJob = errors.New("worker: nil job")
)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers int              // ワーカー数（1以上）
	Metrics    *metrics.Metrics // nil なら新規作成
	Events     *events.Bus      // nil ならイベントを発行しない
	Logger     *logger.Logger   // nil なら logger.Default
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: 4,
	}
}

// Pool は固定数のワーカーと共有キューを管理する
type Pool struct {
	workers []*Worker
	queue   *queue.Queue[message]

	// Execute と Close の順序付け。受理されたジョブは必ず終了シグナルより前に積まれる
	mu     sync.RWMutex
	closed bool
	once   sync.Once

	log     *logger.Logger
	metrics *metrics.Metrics
	bus     *events.Bus
}

// NewPool は size 個のワーカーを持つプールを作成する
func NewPool(size int) (*Pool, error) {
	config := DefaultPoolConfig()
	config.NumWorkers = size
	return NewPoolWithConfig(config)
}

// MustNewPool は NewPool と同じだが、失敗時にパニックする
func MustNewPool(size int) *Pool {
	p, err := NewPool(size)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPoolWithConfig は設定を指定してプールを作成する
func NewPoolWithConfig(config PoolConfig) (*Pool, error) {
	if config.NumWorkers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, config.NumWorkers)
	}

	log := config.Logger
	if log == nil {
		log = logger.Default
	}
	m := config.Metrics
	if m == nil {
		m = metrics.New()
	}

	p := &Pool{
		workers: make([]*Worker, 0, config.NumWorkers),
		queue:   queue.New[message](),
		log:     log,
		metrics: m,
		bus:     config.Events,
	}

	for id := range config.NumWorkers {
		p.workers = append(p.workers, newWorker(id, p.queue, log, m, config.Events))
	}

	log.Info("pool", "Pool started with %d workers", config.NumWorkers)
	return p, nil
}

// Execute はジョブをキューに積む。空いているワーカーが実行する
func (p *Pool) Execute(job Job) error {
	if job == nil {
		return ErrNilJob
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if err := p.queue.Send(newJobMessage(job)); err != nil {
		return fmt.Errorf("%w: %w", ErrPoolClosed, err)
	}
	p.metrics.RecordSubmit()
	return nil
}

// Close は全ワーカーに終了シグナルを送り、全員の終了を待つ。
// 2回目以降の呼び出しは何もしない
func (p *Pool) Close() {
	p.once.Do(p.shutdown)
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	// join より先に全員分を送る
	for range p.workers {
		if err := p.queue.Send(terminateMessage()); err != nil {
			p.mu.Unlock()
			panic(fmt.Sprintf("worker: failed to send terminate: %v", err))
		}
	}
	p.mu.Unlock()

	p.log.Info("pool", "Shutting down all workers.")

	for _, w := range p.workers {
		p.log.Info("pool", "Shutting down worker %d", w.ID())
		w.join()
	}

	p.queue.CloseSender()
	p.queue.CloseReceiver()

	p.bus.Publish(events.NewPoolShutdownEvent(len(p.workers)))
	p.log.Info("pool", "Pool stopped")
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return len(p.workers)
}

// QueueSize は未取得のメッセージ数を返す
func (p *Pool) QueueSize() int {
	return p.queue.Len()
}

// Closed は Close が開始されたかどうかを返す
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Metrics はプールのメトリクスを返す
func (p *Pool) Metrics() *metrics.Metrics {
	return p.metrics
}
