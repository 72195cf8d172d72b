package client

import (
	"sync"
	"sync/atomic"
)

// resettableOnce is like sync.Once but can be reset for the next
// connection. Reset blocks while a Do is running.
type resettableOnce struct {
	done atomic.Bool
	m    sync.Mutex
}

// Do calls f unless it has already run since the last Reset. Concurrent
// callers block until f returns.
func (o *resettableOnce) Do(f func()) {
	if o.done.Load() {
		return
	}

	o.m.Lock()
	defer o.m.Unlock()

	if !o.done.Load() {
		defer o.done.Store(true)
		f()
	}
}

// Reset allows Do to run again.
func (o *resettableOnce) Reset() {
	o.m.Lock()
	defer o.m.Unlock()
	o.done.Store(false)
}

// Done returns true if Do has run since the last Reset.
func (o *resettableOnce) Done() bool {
	return o.done.Load()
}
