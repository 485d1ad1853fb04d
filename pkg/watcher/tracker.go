package watcher

import (
	"sort"
	"sync"
	"time"
)

// stabilityTracker remembers when each file last changed so a file is only
// handed to the pipeline once writes to it have stopped
type stabilityTracker struct {
	mu      sync.Mutex
	changed map[string]time.Time
}

func newStabilityTracker() *stabilityTracker {
	return &stabilityTracker{
		changed: make(map[string]time.Time),
	}
}

// Touch records a change to path at now
func (st *stabilityTracker) Touch(path string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.changed[path] = now
}

// Forget drops path, e.g. after it was removed
func (st *stabilityTracker) Forget(path string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.changed, path)
}

// Due removes and returns, sorted, every path unchanged for at least wait
func (st *stabilityTracker) Due(now time.Time, wait time.Duration) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	var due []string
	for path, last := range st.changed {
		if now.Sub(last) >= wait {
			due = append(due, path)
			delete(st.changed, path)
		}
	}
	sort.Strings(due)
	return due
}

// Len returns the number of files still settling
func (st *stabilityTracker) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.changed)
}
