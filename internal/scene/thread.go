package scene

import (
	"sync"
)

// Thread is the single goroutine allowed to mutate displayed scenes.
// Work submitted with RunLater runs in submission order.
type Thread struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	stopped chan struct{}
	onPanic func(any)
}

// NewThread starts a UI thread.
func NewThread() *Thread {
	t := &Thread{stopped: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	go t.run()
	return t
}

// SetPanicHandler sets the function receiving panics raised by submitted work.
func (t *Thread) SetPanicHandler(fn func(any)) {
	t.mu.Lock()
	t.onPanic = fn
	t.mu.Unlock()
}

// RunLater queues fn and returns immediately. It reports false once the
// thread has been stopped.
func (t *Thread) RunLater(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.queue = append(t.queue, fn)
	t.cond.Signal()
	return true
}

// Sync runs fn on the thread and waits for it.
func Sync[T any](t *Thread, fn func() (T, error)) (T, error) {
	result := make(chan struct{})
	var value T
	var err error
	queued := t.RunLater(func() {
		defer close(result)
		value, err = fn()
	})
	if !queued {
		return value, ErrThreadStopped
	}
	<-result
	return value, err
}

// Flush waits until everything queued before the call has run.
func (t *Thread) Flush() {
	done := make(chan struct{})
	if t.RunLater(func() { close(done) }) {
		<-done
	}
}

// Stop drains the queue and ends the thread.
func (t *Thread) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.stopped
		return
	}
	t.closed = true
	t.cond.Signal()
	t.mu.Unlock()
	<-t.stopped
}

func (t *Thread) run() {
	defer close(t.stopped)
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.cond.Wait()
		}
		if len(t.queue) == 0 && t.closed {
			t.mu.Unlock()
			return
		}
		fn := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()

		t.exec(fn)
	}
}

func (t *Thread) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			handler := t.onPanic
			t.mu.Unlock()
			if handler != nil {
				handler(r)
			}
		}
	}()
	fn()
}
