package queue

import (
	"errors"
	"sync"
)

var (
	// ErrReceiverClosed は消費側が閉じられた後の Send で返される
	ErrReceiverClosed = errors.New("queue: receiving side closed")
	// ErrDisconnected は送信側が閉じられ、キューが空になった後の Receive で返される
	ErrDisconnected = errors.New("queue: sending side closed and queue drained")
)

// Queue は上限のない MPMC キュー
type Queue[T any] struct {
	mu             sync.Mutex
	notEmpty       *sync.Cond
	items          []T
	head           int
	senderClosed   bool
	receiverClosed bool
}

// New は空のキューを作成する
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Send は値をキューの末尾に追加する。ブロックしない
func (q *Queue[T]) Send(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.receiverClosed {
		return ErrReceiverClosed
	}

	q.items = append(q.items, v)
	q.notEmpty.Signal()
	return nil
}

// Receive は先頭の値を取り出す。値が届くまでブロックする
func (q *Queue[T]) Receive() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) {
		if q.senderClosed || q.receiverClosed {
			var zero T
			return zero, ErrDisconnected
		}
		q.notEmpty.Wait()
	}

	v := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++

	// 先頭の空き領域を回収
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return v, nil
}

// CloseSender は送信側を閉じ、待機中の受信者をすべて起こす
func (q *Queue[T]) CloseSender() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.senderClosed {
		return
	}
	q.senderClosed = true
	q.notEmpty.Broadcast()
}

// CloseReceiver は消費側を閉じる。残っている値は破棄される
func (q *Queue[T]) CloseReceiver() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.receiverClosed {
		return
	}
	q.receiverClosed = true
	clear(q.items)
	q.items = nil
	q.head = 0
	q.notEmpty.Broadcast()
}

// Len はバッファされている値の数を返す
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
