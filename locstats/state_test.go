package locstats

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() AggregateResult {
	return AggregateResult{
		Summaries: []RunSummary{
			{RunIndex: 1, MeanInliers: 120, InlierSamples: []float64{100, 140}},
			{RunIndex: 3, MeanInliers: 90},
		},
		Failures: []RunFailure{{RunIndex: 2, Path: "missing.csv", Message: "no such file"}},
	}
}

func TestStateTracker_Empty(t *testing.T) {
	st := NewStateTracker()
	assert.Nil(t, st.Result())
	assert.False(t, st.HasSummaries())
	assert.True(t, st.LastUpdate().IsZero())
	assert.Nil(t, st.Trajectories())

	_, ok := st.Summary(1)
	assert.False(t, ok)
}

func TestStateTracker_SetResult(t *testing.T) {
	st := NewStateTracker()
	require.NoError(t, st.SetResult(sampleResult()))

	assert.True(t, st.HasSummaries())
	assert.False(t, st.LastUpdate().IsZero())

	s, ok := st.Summary(3)
	require.True(t, ok)
	assert.Equal(t, 90.0, s.MeanInliers)

	_, ok = st.Summary(2)
	assert.False(t, ok, "failed runs have no summary")

	fc := geojson.NewFeatureCollection()
	st.SetTrajectories(fc)
	assert.Same(t, fc, st.Trajectories())
}

func TestStateTracker_SnapshotCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "snapshot.json")

	st := NewStateTrackerWithCache(path)
	assert.False(t, st.HasSummaries())
	require.NoError(t, st.SetResult(sampleResult()))

	reloaded := NewStateTrackerWithCache(path)
	require.True(t, reloaded.HasSummaries())

	s, ok := reloaded.Summary(1)
	require.True(t, ok)
	assert.Equal(t, 120.0, s.MeanInliers)
	assert.Nil(t, s.InlierSamples, "samples are not persisted")
	require.Len(t, reloaded.Result().Failures, 1)
	assert.Equal(t, "no such file", reloaded.Result().Failures[0].Message)
}

func TestLoadAggregateResult_Missing(t *testing.T) {
	_, err := LoadAggregateResult(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}

func TestStateTracker_ConcurrentAccess(t *testing.T) {
	st := NewStateTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = st.SetResult(sampleResult())
		}()
		go func() {
			defer wg.Done()
			st.Summary(1)
			st.HasSummaries()
		}()
	}
	wg.Wait()
	assert.True(t, st.HasSummaries())
}
