// Package testutil provides helpers shared by the timering test suites.
//
// t.Fatal and t.FailNow must not be called from goroutines other than the
// test goroutine: they call runtime.Goexit, which only stops the calling
// goroutine. GoroutineTest collects errors from workers and reports them
// from Wait instead.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// GoroutineTest runs functions concurrently and fails the test from Wait
// if any of them returned an error.
//
//	gt := testutil.NewGoroutineTest(t)
//	defer gt.Wait()
//
//	gt.Go(func() error {
//		return ring.Insert(stamp, value)
//	})
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context is cancelled by Wait.
func NewGoroutineTest(t testing.TB) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return newGoroutineTest(t, ctx, cancel)
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context also
// expires after timeout.
func NewGoroutineTestWithTimeout(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return newGoroutineTest(t, ctx, cancel)
}

func newGoroutineTest(t testing.TB, ctx context.Context, cancel context.CancelFunc) *GoroutineTest {
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a new goroutine and records its error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.GoWithContext(func(context.Context) error { return fn() })
}

// GoWithContext runs fn with the test context in a new goroutine.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping: %v", err)
			}
		}
	}()
}

// Wait blocks until every goroutine returned, then fails the test if any
// of them reported an error. Call it from the test goroutine.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()

	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var failed bool
	for err := range gt.errors {
		gt.t.Errorf("goroutine: %v", err)
		failed = true
	}
	if failed {
		gt.t.FailNow()
	}
}

// Context returns the context handed to GoWithContext functions.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel signals every GoWithContext function to stop.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}
