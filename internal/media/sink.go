package media

import "sync"

// FrameSink receives completed NAL units on the receiver goroutine and must
// not block.
type FrameSink func(frame []byte)

// QueueSink hands frames to next on its own goroutine through a queue of size
// frames. Frames arriving while the queue is full are dropped. stop delivers
// what is already queued and waits for the goroutine to exit.
func QueueSink(size int, next FrameSink) (sink FrameSink, stop func()) {
	if size <= 0 {
		size = 1
	}
	var (
		mu      sync.Mutex
		stopped bool
		queue   = make(chan []byte, size)
		done    = make(chan struct{})
	)

	go func() {
		defer close(done)
		for frame := range queue {
			next(frame)
		}
	}()

	sink = func(frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		select {
		case queue <- frame:
		default:
			queueDrops.Inc()
		}
	}
	stop = func() {
		mu.Lock()
		if !stopped {
			stopped = true
			close(queue)
		}
		mu.Unlock()
		<-done
	}
	return sink, stop
}
