// Package compaction provides a reference CompactionSink driven
// by github.com/robfig/cron/v3, scheduling periodic maintenance work.
package compaction

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/viofs/viofs/internal/ids"
)

// Sink is the compaction sink contract the facade notifies.
type Sink interface {
	NotifyFileChanged(id ids.FileID)
	TriggerFullScan()
	RunOnce() error
}

// Runner is a Sink that coalesces change notifications and runs a
// user-supplied compaction pass on a cron schedule, plus on demand via
// TriggerFullScan/RunOnce.
type Runner struct {
	mu      sync.Mutex
	dirty   map[ids.FileID]struct{}
	fullScan bool
	run     func(changed []ids.FileID, fullScan bool) error

	cron *cron.Cron
}

// NewRunner builds a Runner. schedule is a standard cron expression (e.g.
// "0 */15 * * * *" for every fifteen minutes); run performs the actual
// compaction work and is invoked from the cron goroutine as well as from
// RunOnce.
func NewRunner(schedule string, run func(changed []ids.FileID, fullScan bool) error) (*Runner, error) {
	r := &Runner{
		dirty: make(map[ids.FileID]struct{}),
		run:   run,
		cron:  cron.New(cron.WithSeconds()),
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		_ = r.RunOnce()
	}); err != nil {
		return nil, err
	}
	r.cron.Start()
	return r, nil
}

// NotifyFileChanged marks id dirty for the next compaction pass.
func (r *Runner) NotifyFileChanged(id ids.FileID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty[id] = struct{}{}
}

// TriggerFullScan requests that the next RunOnce treat every file as dirty.
func (r *Runner) TriggerFullScan() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fullScan = true
}

// RunOnce drains the accumulated dirty set (and full-scan flag) and runs
// one compaction pass. Safe to call concurrently with notifications; a
// notification arriving mid-run is simply picked up by the next RunOnce.
func (r *Runner) RunOnce() error {
	r.mu.Lock()
	changed := make([]ids.FileID, 0, len(r.dirty))
	for id := range r.dirty {
		changed = append(changed, id)
	}
	r.dirty = make(map[ids.FileID]struct{})
	fullScan := r.fullScan
	r.fullScan = false
	r.mu.Unlock()

	if len(changed) == 0 && !fullScan {
		return nil
	}
	return r.run(changed, fullScan)
}

// Stop halts the cron schedule. It does not run a final pass.
func (r *Runner) Stop() {
	r.cron.Stop()
}

var _ Sink = (*Runner)(nil)
