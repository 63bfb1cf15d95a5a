package api

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-summarizer/internal/processor"
)

// RunStatus is the lifecycle state of a submitted run.
type RunStatus string

// Run statuses.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is what the API reports about one run.
type RunRecord struct {
	ID        string            `json:"run_id"`
	Site      string            `json:"site"`
	Status    RunStatus         `json:"status"`
	Submitted time.Time         `json:"submitted"`
	Finished  *time.Time        `json:"finished,omitempty"`
	Error     string            `json:"error,omitempty"`
	Result    *processor.Result `json:"result,omitempty"`
}

// errRegistryFull is returned by add when every stored run is still queued
// or running, so nothing can make room.
var errRegistryFull = errors.New("too many runs in flight")

// runRegistry keeps the most recent runs in memory, evicting the oldest
// finished run once capacity is reached. It never holds more than capacity
// runs.
type runRegistry struct {
	mu       sync.RWMutex
	runs     map[string]*RunRecord
	capacity int
}

func newRunRegistry(capacity int) *runRegistry {
	if capacity <= 0 {
		capacity = 100
	}
	return &runRegistry{runs: make(map[string]*RunRecord), capacity: capacity}
}

func (r *runRegistry) add(rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) >= r.capacity && !r.evictLocked() {
		return errRegistryFull
	}
	r.runs[rec.ID] = &rec
	return nil
}

func (r *runRegistry) evictLocked() bool {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, rec := range r.runs {
		if rec.Finished == nil {
			continue
		}
		if oldestID == "" || rec.Submitted.Before(oldest) {
			oldestID, oldest = id, rec.Submitted
		}
	}
	if oldestID == "" {
		return false
	}
	delete(r.runs, oldestID)
	return true
}

func (r *runRegistry) update(id string, fn func(rec *RunRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.runs[id]; ok {
		fn(rec)
	}
}

func (r *runRegistry) get(id string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// list returns runs newest first without their page results.
func (r *runRegistry) list(limit int) []RunRecord {
	r.mu.RLock()
	out := make([]RunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		cp := *rec
		cp.Result = nil
		out = append(out, cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted.After(out[j].Submitted) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
