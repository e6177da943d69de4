package locstats

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Aggregator turns repeat-run localization logs into run summaries.
// It holds no mutable state; every call builds fresh summaries.
type Aggregator struct {
	totalRepeats int
	excluded     map[int]bool
	runPattern   string
	classifier   *SegmentClassifier // nil disables segment statistics
	location     *time.Location
}

// NewAggregator builds an aggregator from a validated config
func NewAggregator(cfg *Config) (*Aggregator, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}

	excluded := make(map[int]bool, len(cfg.ExcludedRepeats))
	for _, r := range cfg.ExcludedRepeats {
		excluded[r] = true
	}

	pattern := cfg.RunPathPattern
	if pattern == "" {
		pattern = DefaultRunPathPattern
	}

	return &Aggregator{
		totalRepeats: cfg.TotalRepeats,
		excluded:     excluded,
		runPattern:   pattern,
		classifier:   classifier,
		location:     loc,
	}, nil
}

// Classifier returns the segment classifier, or nil when segments are disabled
func (a *Aggregator) Classifier() *SegmentClassifier {
	return a.classifier
}

// RetainedRuns returns repeat indices 1..TotalRepeats minus exclusions, in order
func (a *Aggregator) RetainedRuns() []int {
	runs := make([]int, 0, a.totalRepeats)
	for i := 1; i <= a.totalRepeats; i++ {
		if !a.excluded[i] {
			runs = append(runs, i)
		}
	}
	return runs
}

// RunPath resolves the info log of a repeat under root
func (a *Aggregator) RunPath(root string, run int) string {
	return filepath.Join(root, fmt.Sprintf(a.runPattern, run))
}

// SummarizeRun computes the statistics of one run's records. A run with no
// records fails with ErrEmptyRun rather than producing NaN means.
func (a *Aggregator) SummarizeRun(run int, records []LocalizationRecord) (RunSummary, error) {
	if len(records) == 0 {
		return RunSummary{}, &RunError{RunIndex: run, Record: absent, Err: ErrEmptyRun}
	}

	inliers := make([]float64, len(records))
	compTimes := make([]float64, len(records))
	successes := 0
	segmentSamples := make(map[SegmentLabel][]float64)

	for i, rec := range records {
		inliers[i] = rec.InliersRGB
		compTimes[i] = rec.ComputationTimeMs
		if rec.Success {
			successes++
		}
		if a.classifier == nil {
			continue
		}
		label, err := a.classifier.Classify(rec.PrivilegedVertexID)
		if err != nil {
			return RunSummary{}, &RunError{RunIndex: run, Record: i, Err: err}
		}
		segmentSamples[label] = append(segmentSamples[label], rec.InliersRGB)
	}

	ts := records[0].Timestamp
	summary := RunSummary{
		RunIndex:              run,
		Timestamp:             ts,
		Time:                  time.Unix(0, ts).In(a.location),
		RecordCount:           len(records),
		MeanInliers:           stat.Mean(inliers, nil),
		MeanComputationTimeMs: stat.Mean(compTimes, nil),
		SuccessRate:           float64(successes) / float64(len(records)),
		InlierSamples:         inliers,
	}

	if a.classifier != nil {
		summary.SegmentMeanInliers = make(map[SegmentLabel]float64, len(segmentSamples))
		summary.SegmentCounts = make(map[SegmentLabel]int, len(segmentSamples))
		for label, samples := range segmentSamples {
			// labels only enter the map with a sample, so the mean is defined
			summary.SegmentMeanInliers[label] = stat.Mean(samples, nil)
			summary.SegmentCounts[label] = len(samples)
		}
	}

	return summary, nil
}

// LoadRun reads and summarizes one repeat's info log
func (a *Aggregator) LoadRun(run int, path string) (RunSummary, error) {
	records, err := ReadLocalizationLog(path, InfoSchema())
	if err != nil {
		return RunSummary{}, &RunError{RunIndex: run, Path: path, Record: absent, Err: err}
	}
	summary, err := a.SummarizeRun(run, records)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			runErr.Path = path
		}
		return RunSummary{}, err
	}
	return summary, nil
}

// AggregateDir summarizes every retained repeat under root. A failing run
// is recorded in Failures and the pass moves on to the next run; summaries
// are only appended once complete.
func (a *Aggregator) AggregateDir(root string) AggregateResult {
	result := AggregateResult{
		Summaries: []RunSummary{},
		Failures:  []RunFailure{},
	}

	for _, run := range a.RetainedRuns() {
		path := a.RunPath(root, run)
		summary, err := a.LoadRun(run, path)
		if err != nil {
			log.Printf("[AGG] skipping run %d: %v", run, err)
			result.Failures = append(result.Failures, RunFailure{
				RunIndex: run,
				Path:     path,
				Message:  err.Error(),
				Err:      err,
			})
			continue
		}
		log.Printf("[AGG] run %d (%s): %d records, mean inliers %.1f, mean comp time %.1f ms",
			run, summary.Time.Format("2006-01-02 15:04"), summary.RecordCount,
			summary.MeanInliers, summary.MeanComputationTimeMs)
		result.Summaries = append(result.Summaries, summary)
	}

	return result
}

// SegmentSeries returns each summary's mean inliers for one segment, in run
// order. ok is false for runs that never visited the segment.
func SegmentSeries(summaries []RunSummary, label SegmentLabel) (values []float64, ok []bool) {
	values = make([]float64, len(summaries))
	ok = make([]bool, len(summaries))
	for i, s := range summaries {
		values[i], ok[i] = s.SegmentMeanInliers[label]
	}
	return values, ok
}
