package locstats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
)

// StateTracker holds the latest aggregation and trajectory results for the
// HTTP endpoints. Results are replaced wholesale and never mutated.
type StateTracker struct {
	mu           sync.RWMutex
	result       *AggregateResult
	trajectories *geojson.FeatureCollection
	updated      time.Time
	cachePath    string // path to a JSON snapshot; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// NewStateTrackerWithCache creates a state tracker that persists each
// aggregation result to cachePath. An existing snapshot is loaded, without
// inlier samples, so summaries are served before the first pass finishes.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := &StateTracker{cachePath: cachePath}
	if cachePath != "" {
		if result, err := LoadAggregateResult(cachePath); err == nil {
			st.result = result
		}
	}
	return st
}

// SetResult replaces the current aggregation result
func (st *StateTracker) SetResult(result AggregateResult) error {
	st.mu.Lock()
	st.result = &result
	st.updated = time.Now()
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath == "" {
		return nil
	}
	return SaveAggregateResult(cachePath, &result)
}

// SetTrajectories replaces the exported trajectory collection
func (st *StateTracker) SetTrajectories(fc *geojson.FeatureCollection) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.trajectories = fc
}

// Result returns the current aggregation result, or nil if none exists
func (st *StateTracker) Result() *AggregateResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result
}

// Summary returns the summary of one run
func (st *StateTracker) Summary(run int) (RunSummary, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.result == nil {
		return RunSummary{}, false
	}
	for _, s := range st.result.Summaries {
		if s.RunIndex == run {
			return s, true
		}
	}
	return RunSummary{}, false
}

// Trajectories returns the exported trajectories, or nil if none exist
func (st *StateTracker) Trajectories() *geojson.FeatureCollection {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.trajectories
}

// HasSummaries returns true if at least one run has been summarized
func (st *StateTracker) HasSummaries() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result != nil && len(st.result.Summaries) > 0
}

// LastUpdate returns when the result was last replaced
func (st *StateTracker) LastUpdate() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.updated
}

// SaveAggregateResult writes a result snapshot as JSON
func SaveAggregateResult(path string, result *AggregateResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling aggregate result: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing aggregate result: %w", err)
	}
	return nil
}

// LoadAggregateResult reads a result snapshot written by SaveAggregateResult
func LoadAggregateResult(path string) (*AggregateResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading aggregate result: %w", err)
	}
	var result AggregateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing aggregate result: %w", err)
	}
	return &result, nil
}
