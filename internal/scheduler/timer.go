package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const timerFileName = "service-timer.json"

// timerState is the persisted form: the start times of the last successful
// full and incremental crawls, RFC 3339.
type timerState struct {
	LastFullRun        time.Time `json:"last_full_run"`
	LastIncrementalRun time.Time `json:"last_incremental_run"`
}

// ServiceTimer decides when full and incremental crawls are due and persists
// the decision inputs across restarts. Crawls are stamped with their START
// time, so a long crawl does not push the next one out by its own duration.
type ServiceTimer struct {
	path      string
	fullEvery time.Duration
	incrEvery time.Duration

	mu    sync.Mutex
	state timerState
}

// NewServiceTimer creates a timer persisted under the install path. Existing
// state is loaded; a missing or unreadable file starts from zero, which makes
// a full crawl immediately due.
func NewServiceTimer(installPath string, fullEvery, incrEvery time.Duration) (*ServiceTimer, error) {
	dir := filepath.Join(installPath, "data")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create timer directory %s: %w", dir, err)
	}

	timer := &ServiceTimer{
		path:      filepath.Join(dir, timerFileName),
		fullEvery: fullEvery,
		incrEvery: incrEvery,
	}
	if data, err := os.ReadFile(timer.path); err == nil {
		if err := json.Unmarshal(data, &timer.state); err != nil {
			return nil, fmt.Errorf("corrupt timer file %s: %w", timer.path, err)
		}
	}
	return timer, nil
}

// IsFullDue reports whether a full crawl is due at the given instant.
func (t *ServiceTimer) IsFullDue(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.LastFullRun.IsZero() || now.Sub(t.state.LastFullRun) >= t.fullEvery
}

// IsIncrementalDue reports whether an incremental crawl is due at the given
// instant.
func (t *ServiceTimer) IsIncrementalDue(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.LastFullRun.IsZero() {
		return false // Nothing to increment from yet
	}
	last := t.state.LastIncrementalRun
	if last.IsZero() || t.state.LastFullRun.After(last) {
		last = t.state.LastFullRun
	}
	return now.Sub(last) >= t.incrEvery
}

// LastFull returns the start time of the last successful full crawl.
func (t *ServiceTimer) LastFull() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.LastFullRun
}

// LastIncremental returns the start time of the last successful incremental
// crawl.
func (t *ServiceTimer) LastIncremental() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.LastIncrementalRun
}

// Watermark returns the most recent successful crawl start of either kind;
// incremental crawls skip documents unchanged since this instant.
func (t *ServiceTimer) Watermark() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.LastIncrementalRun.After(t.state.LastFullRun) {
		return t.state.LastIncrementalRun
	}
	return t.state.LastFullRun
}

// MarkFull records a successful full crawl that STARTED at the given instant.
func (t *ServiceTimer) MarkFull(started time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastFullRun = started
	return t.persist()
}

// MarkIncremental records a successful incremental crawl that started at the
// given instant.
func (t *ServiceTimer) MarkIncremental(started time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastIncrementalRun = started
	return t.persist()
}

// persist writes the state durably: temp file, then rename.
func (t *ServiceTimer) persist() error {
	data, err := json.MarshalIndent(&t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timer state: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write timer state: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to persist timer state: %w", err)
	}
	return nil
}
