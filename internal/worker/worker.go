package worker

import (
	"fmt"
	"time"

	"hellopool/internal/events"
	"hellopool/internal/logger"
	"hellopool/internal/metrics"
	"hellopool/internal/queue"
)

// Worker はキューからメッセージを取り出して実行する1本のゴルーチン
type Worker struct {
	id   int
	done chan struct{} // join 済みなら nil

	queue   *queue.Queue[message]
	log     *logger.Logger
	metrics *metrics.Metrics
	bus     *events.Bus
}

// newWorker はワーカーを作成し、すぐにループを開始する
func newWorker(id int, q *queue.Queue[message], log *logger.Logger, m *metrics.Metrics, bus *events.Bus) *Worker {
	w := &Worker{
		id:      id,
		done:    make(chan struct{}),
		queue:   q,
		log:     log,
		metrics: m,
		bus:     bus,
	}
	go w.run(w.done)
	return w
}

// ID はワーカーの識別子を返す
func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) scope() string {
	return fmt.Sprintf("worker-%d", w.id)
}

func (w *Worker) run(done chan struct{}) {
	defer close(done)

	w.bus.Publish(events.NewWorkerStartedEvent(w.id))

	for {
		// ロックは1件取り出す間だけ保持される
		msg, err := w.queue.Receive()
		if err != nil {
			w.log.Error(w.scope(), "Queue disconnected before terminate was received: %v", err)
			w.bus.Publish(events.NewWorkerDisconnectedEvent(w.id, err))
			return
		}

		switch msg.kind {
		case messageNewJob:
			w.log.Debug(w.scope(), "Got a job; executing.")
			w.execute(msg.job)
		case messageTerminate:
			w.log.Debug(w.scope(), "Was told to terminate.")
			w.bus.Publish(events.NewWorkerExitedEvent(w.id))
			return
		}
	}
}

// execute はジョブを実行する。ジョブ内のパニックはこのワーカーで回収する
func (w *Worker) execute(job Job) {
	w.metrics.RecordStart()
	w.bus.Publish(events.NewJobStartedEvent(w.id))
	start := time.Now()

	defer func() {
		took := time.Since(start)
		if r := recover(); r != nil {
			err := fmt.Errorf("job panicked: %v", r)
			w.log.Warn(w.scope(), "%v", err)
			w.metrics.RecordFinish(took, false)
			w.bus.Publish(events.NewJobPanickedEvent(w.id, took, err))
			return
		}
		w.metrics.RecordFinish(took, true)
		w.bus.Publish(events.NewJobFinishedEvent(w.id, took))
	}()

	job()
}

// join はワーカーのゴルーチンの終了を待つ。2回目以降は何もせず false を返す
func (w *Worker) join() bool {
	done := w.done
	if done == nil {
		return false
	}
	w.done = nil
	<-done
	return true
}
