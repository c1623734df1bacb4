package fs

import (
	"sync"
	"time"
)

// debouncer runs the last function triggered within delay once the burst settles.
type debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay}
}

// trigger (re)schedules fn. It is a no-op once the debouncer is stopped.
func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		fn()
	})
}

// stopAndWait cancels the pending call and waits for a running one. It reports
// whether the running call finished within timeout.
func (d *debouncer) stopAndWait(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
