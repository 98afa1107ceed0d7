package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxLatencySamples = 1000

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99 計算用に保持するレイテンシサンプル数
}

// Metrics はジョブ（またはリクエスト）の実行メトリクスを収集する
type Metrics struct {
	submitted      atomic.Uint64
	totalRequests  atomic.Uint64
	successCount   atomic.Uint64
	failedCount    atomic.Uint64
	totalLatencyNs atomic.Uint64
	active         atomic.Int64
	peakActive     atomic.Int64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	maxLatencySamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = defaultMaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,
	}
}

// RecordSubmit はキューへの投入を記録する
func (m *Metrics) RecordSubmit() {
	m.submitted.Add(1)
}

// RecordStart は実行開始を記録し、同時実行数のピークを更新する
func (m *Metrics) RecordStart() {
	n := m.active.Add(1)
	for {
		peak := m.peakActive.Load()
		if n <= peak || m.peakActive.CompareAndSwap(peak, n) {
			return
		}
	}
}

// RecordFinish は RecordStart に対応する実行終了を記録する
func (m *Metrics) RecordFinish(latency time.Duration, ok bool) {
	m.active.Add(-1)
	if ok {
		m.RecordSuccess(latency)
	} else {
		m.RecordFailure(latency)
	}
}

// RecordSuccess は成功した実行を記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.totalRequests.Add(1)
	m.successCount.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	m.mu.Unlock()
}

// RecordFailure は失敗した実行を記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.totalRequests.Add(1)
	m.failedCount.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	m.mu.Unlock()
}

// Submitted は投入数を返す
func (m *Metrics) Submitted() uint64 {
	return m.submitted.Load()
}

// Active は実行中の数を返す
func (m *Metrics) Active() int64 {
	return m.active.Load()
}

// PeakActive は同時実行数の最大値を返す
func (m *Metrics) PeakActive() int64 {
	return m.peakActive.Load()
}

// TotalRequests は完了した総数を返す
func (m *Metrics) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功数を返す
func (m *Metrics) SuccessRequests() uint64 {
	return m.successCount.Load()
}

// FailedRequests は失敗数を返す
func (m *Metrics) FailedRequests() uint64 {
	return m.failedCount.Load()
}

// RPS は現在のウィンドウでの毎秒完了数を返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均毎秒完了数を返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedCount.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Submitted       uint64        `json:"submitted"`
	Active          int64         `json:"active"`
	PeakActive      int64         `json:"peak_active"`
	TotalRequests   uint64        `json:"total"`
	SuccessRequests uint64        `json:"success"`
	FailedRequests  uint64        `json:"failed"`
	RPS             float64       `json:"rps"`
	OverallRPS      float64       `json:"overall_rps"`
	AverageLatency  time.Duration `json:"avg_latency_ns"`
	P99Latency      time.Duration `json:"p99_latency_ns"`
	ErrorRate       float64       `json:"error_rate"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Submitted:       m.Submitted(),
		Active:          m.Active(),
		PeakActive:      m.PeakActive(),
		TotalRequests:   m.TotalRequests(),
		SuccessRequests: m.SuccessRequests(),
		FailedRequests:  m.FailedRequests(),
		RPS:             m.RPS(),
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		P99Latency:      m.P99Latency(),
		ErrorRate:       m.ErrorRate(),
		Elapsed:         time.Since(m.startTime),
	}
}
