package locstats

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cfg.Timezone = "UTC"
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	agg, err := NewAggregator(&cfg)
	require.NoError(t, err)
	return agg
}

func TestSummarizeRun_Means(t *testing.T) {
	agg := testAggregator(t, Config{TotalRepeats: 1})
	records := []LocalizationRecord{
		{Timestamp: 1_600_000_000_000_000_000, InliersRGB: 2, ComputationTimeMs: 10, Success: true},
		{Timestamp: 1_600_000_001_000_000_000, InliersRGB: 4, ComputationTimeMs: 20, Success: true},
		{Timestamp: 1_600_000_002_000_000_000, InliersRGB: 6, ComputationTimeMs: 30},
	}

	s, err := agg.SummarizeRun(1, records)
	require.NoError(t, err)

	assert.Equal(t, 1, s.RunIndex)
	assert.Equal(t, 3, s.RecordCount)
	assert.InDelta(t, 4.0, s.MeanInliers, 1e-12)
	assert.InDelta(t, 20.0, s.MeanComputationTimeMs, 1e-12)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-12)
	assert.Equal(t, []float64{2, 4, 6}, s.InlierSamples)
	assert.Equal(t, int64(1_600_000_000_000_000_000), s.Timestamp)
	assert.True(t, time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC).Equal(s.Time), "Time = %v", s.Time)
	assert.Equal(t, "UTC", s.Time.Location().String())
	assert.Nil(t, s.SegmentMeanInliers)
}

func TestSummarizeRun_Empty(t *testing.T) {
	agg := testAggregator(t, Config{TotalRepeats: 1})

	_, err := agg.SummarizeRun(3, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyRun)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 3, runErr.RunIndex)
}

func TestSummarizeRun_Segments(t *testing.T) {
	agg := testAggregator(t, Config{
		TotalRepeats: 1,
		Segments: SegmentConfig{
			Boundaries: []int64{10},
			Rules: []SegmentRule{
				{Label: "near", Intervals: []Interval{{Lo: -1, Hi: 0}}},
				{Label: "far", Intervals: []Interval{{Lo: 0, Hi: -1}}},
			},
		},
	})
	records := []LocalizationRecord{
		{PrivilegedVertexID: 1, InliersRGB: 100},
		{PrivilegedVertexID: 2, InliersRGB: 200},
		{PrivilegedVertexID: 12, InliersRGB: 50},
	}

	s, err := agg.SummarizeRun(1, records)
	require.NoError(t, err)

	assert.Equal(t, map[SegmentLabel]float64{"near": 150, "far": 50}, s.SegmentMeanInliers)
	assert.Equal(t, map[SegmentLabel]int{"near": 2, "far": 1}, s.SegmentCounts)
}

func TestSummarizeRun_SegmentOmittedWhenUnvisited(t *testing.T) {
	agg := testAggregator(t, Config{
		TotalRepeats: 1,
		Segments:     SegmentConfig{Boundaries: []int64{468, 5504, 6083, 6553, 7108}},
	})

	s, err := agg.SummarizeRun(1, []LocalizationRecord{{PrivilegedVertexID: 100, InliersRGB: 10}})
	require.NoError(t, err)
	assert.Len(t, s.SegmentMeanInliers, 1)
	_, ok := s.SegmentMeanInliers[SegmentOutOfTrainingB]
	assert.False(t, ok)

	values, visited := SegmentSeries([]RunSummary{s}, SegmentInTrainingA)
	assert.Equal(t, []float64{10}, values)
	assert.Equal(t, []bool{true}, visited)
}

func TestAggregator_RetainedRuns(t *testing.T) {
	agg := testAggregator(t, Config{TotalRepeats: 6, ExcludedRepeats: []int{2, 5}})
	assert.Equal(t, []int{1, 3, 4, 6}, agg.RetainedRuns())
}

func TestAggregateDir(t *testing.T) {
	dir := t.TempDir()
	runPath := func(run int) string {
		return fmt.Sprintf("graph.index/repeats/%d/results/info.csv", run)
	}

	writeLog(t, dir, runPath(1), infoHeader,
		infoRow(1_000, 1, true, 100, 30),
		infoRow(2_000, 2, true, 200, 50),
	)
	// run 2 is excluded and would fail if it were loaded
	writeLog(t, dir, runPath(2), infoHeader, "garbage")
	// run 3 is broken
	writeLog(t, dir, runPath(3), infoHeader, "1000,1,1,1,not-a-number,0,0,0,0,0")
	// run 4 has no rows
	writeLog(t, dir, runPath(4), infoHeader)
	writeLog(t, dir, runPath(5), infoHeader, infoRow(3_000, 9, false, 60, 10))

	agg := testAggregator(t, Config{DataDir: dir, TotalRepeats: 6, ExcludedRepeats: []int{2}})
	result := agg.AggregateDir(dir)

	require.Len(t, result.Summaries, 2)
	assert.Equal(t, 1, result.Summaries[0].RunIndex)
	assert.InDelta(t, 150.0, result.Summaries[0].MeanInliers, 1e-12)
	assert.Equal(t, 5, result.Summaries[1].RunIndex)
	assert.Zero(t, result.Summaries[1].SuccessRate)

	require.Len(t, result.Failures, 3)
	failed := map[int]error{}
	for _, f := range result.Failures {
		failed[f.RunIndex] = f.Err
		assert.NotEmpty(t, f.Message)
	}
	assert.ErrorIs(t, failed[3], ErrMalformedRow)
	assert.ErrorIs(t, failed[4], ErrEmptyRun)
	assert.Error(t, failed[6]) // missing file
	assert.NotContains(t, failed, 2)
}
