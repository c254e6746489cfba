// Package utils holds helpers shared by the test suites of several packages.
package utils

import (
	"runtime"
	"testing"
	"time"
)

// LeakCheck snapshots the goroutine count. The returned function fails t
// when the count has not come back to within allowed of the snapshot before
// settle elapses, and dumps every stack to help find the leak.
func LeakCheck(t testing.TB, allowed int, settle time.Duration) func() {
	t.Helper()
	start := runtime.NumGoroutine()
	return func() {
		t.Helper()
		deadline := time.Now().Add(settle)
		current := runtime.NumGoroutine()
		for current-start > allowed && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
			current = runtime.NumGoroutine()
		}
		if current-start <= allowed {
			return
		}
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("goroutine leak: %d before, %d after (allowed growth %d)\n%s", start, current, allowed, buf[:n])
	}
}
