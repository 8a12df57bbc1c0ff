package server

import (
	"sync"
	"time"
)

// DefaultPushInterval is how long scene changes are collected before one
// snapshot is pushed.
const DefaultPushInterval = 10 * time.Millisecond

// PushBatcher coalesces scene change notifications. A reload touches many
// nodes; viewers only need the tree once it has settled.
type PushBatcher struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	pending  int
	pushes   int
	stopped  bool
	push     func()
}

// NewPushBatcher calls push once per burst of Trigger calls.
func NewPushBatcher(interval time.Duration, push func()) *PushBatcher {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	return &PushBatcher{interval: interval, push: push}
}

// Trigger records a change and starts the debounce timer if it is not
// running. The deadline of a running timer is kept.
func (b *PushBatcher) Trigger() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending++
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.flush)
	}
}

// FlushNow pushes immediately if changes are pending.
func (b *PushBatcher) FlushNow() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	b.flush()
}

func (b *PushBatcher) flush() {
	b.mu.Lock()
	b.timer = nil
	pending := b.pending
	b.pending = 0
	if pending > 0 {
		b.pushes++
	}
	b.mu.Unlock()

	if pending > 0 {
		b.push()
	}
}

// Stop drops pending changes; later triggers are ignored.
func (b *PushBatcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = nil
	b.pending = 0
	b.stopped = true
}

// PendingCount returns the number of changes not yet pushed.
func (b *PushBatcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Pushes returns the number of pushes made so far.
func (b *PushBatcher) Pushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes
}
