package compaction

import (
	"sync"
	"testing"

	"github.com/viofs/viofs/internal/ids"
)

func TestRunOnce_DrainsDirtySetAndFullScanFlag(t *testing.T) {
	var mu sync.Mutex
	var lastChanged []ids.FileID
	var lastFullScan bool
	calls := 0

	r, err := NewRunner("0 0 0 1 1 *", func(changed []ids.FileID, fullScan bool) error {
		mu.Lock()
		defer mu.Unlock()
		lastChanged = changed
		lastFullScan = fullScan
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Stop()

	if err := r.RunOnce(); err != nil {
		t.Fatalf("run once on empty runner: %v", err)
	}
	mu.Lock()
	if calls != 0 {
		t.Fatal("RunOnce should not invoke the callback when nothing is dirty")
	}
	mu.Unlock()

	r.NotifyFileChanged(ids.FileID(5))
	r.NotifyFileChanged(ids.FileID(7))
	if err := r.RunOnce(); err != nil {
		t.Fatalf("run once: %v", err)
	}
	mu.Lock()
	if calls != 1 || len(lastChanged) != 2 || lastFullScan {
		t.Fatalf("unexpected state: calls=%d changed=%v fullScan=%v", calls, lastChanged, lastFullScan)
	}
	mu.Unlock()

	// A second RunOnce with nothing new dirty should not re-invoke.
	if err := r.RunOnce(); err != nil {
		t.Fatalf("run once: %v", err)
	}
	mu.Lock()
	if calls != 1 {
		t.Fatalf("expected no additional call, got calls=%d", calls)
	}
	mu.Unlock()

	r.TriggerFullScan()
	if err := r.RunOnce(); err != nil {
		t.Fatalf("run once: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 || !lastFullScan {
		t.Fatalf("expected full scan run, calls=%d fullScan=%v", calls, lastFullScan)
	}
}

var _ Sink = (*Runner)(nil)
