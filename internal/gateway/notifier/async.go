package notifier

import (
	"sync"
	"sync/atomic"

	"upbitmt/internal/logger"
)

// Async queues messages for a single background sender. SendText never
// blocks: when the queue is full the message is dropped and counted.
type Async struct {
	next    TextNotifier
	queue   chan string
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(next TextNotifier, size int) *Async {
	if size <= 0 {
		size = 64
	}
	a := &Async{
		next:  next,
		queue: make(chan string, size),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) SendText(text string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- text:
	default:
		n := a.dropped.Add(1)
		logger.Warnf("notifier queue full, message dropped (total dropped=%d)", n)
	}
	return nil
}

// Dropped returns how many messages were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting messages and waits until the queue is drained.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
}

func (a *Async) loop() {
	defer close(a.done)
	for text := range a.queue {
		if err := a.next.SendText(text); err != nil {
			logger.Warnf("notification send failed: %v", err)
		}
	}
}
