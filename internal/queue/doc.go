// Package queue provides an unbounded multi-producer/multi-consumer queue.
//
// A Queue has a producing side and a consuming side. Any number of
// goroutines may Send and Receive concurrently; every item is delivered to
// exactly one receiver, in the order it was sent.
//
// # Basic Usage
//
//	q := queue.New[string]()
//
//	go func() {
//	    for {
//	        v, err := q.Receive() // blocks until an item is available
//	        if err != nil {
//	            return // producing side closed and queue drained
//	        }
//	        fmt.Println(v)
//	    }
//	}()
//
//	_ = q.Send("hello")
//	q.CloseSender()
//
// # Closing
//
// CloseSender drops the producing side: receivers drain what is buffered
// and then get ErrDisconnected. CloseReceiver drops the consuming side:
// further Sends fail with ErrReceiverClosed.
package queue
