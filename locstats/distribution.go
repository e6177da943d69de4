package locstats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultTargetBins is the bin count of a run that reaches the reference maximum
	DefaultTargetBins = 50
	// DefaultReferenceMaxInliers is the largest inlier count seen across the reference dataset
	DefaultReferenceMaxInliers = 696
	// MaxBins bounds the adaptive bin count of a single run
	MaxBins = 1 << 16
)

// DefaultDistributionConfig returns the reference binning parameters
func DefaultDistributionConfig() DistributionConfig {
	return DistributionConfig{
		TargetBins:          DefaultTargetBins,
		ReferenceMaxInliers: DefaultReferenceMaxInliers,
	}
}

// AdaptiveBinCount scales the bin count with a run's maximum inlier value:
// floor(TargetBins * max / ReferenceMaxInliers), never below one. Huge
// values saturate at math.MaxInt32 instead of overflowing.
func AdaptiveBinCount(maxValue float64, cfg DistributionConfig) int {
	f := math.Floor(float64(cfg.TargetBins) * maxValue / cfg.ReferenceMaxInliers)
	switch {
	case !(f >= 1):
		return 1
	case f > math.MaxInt32:
		return math.MaxInt32
	}
	return int(f)
}

// InlierCDF builds the cumulative inlier distribution of one run. Samples
// are binned into equal-width bins over [min, max]; the bin fractions are
// accumulated from the highest bin down and the curve reports
// 1 - cumulative against each lower bin edge, so it falls from about 1 at
// the smallest inlier count to 0 at the largest.
func InlierCDF(samples []float64, cfg DistributionConfig) (CDFCurve, error) {
	if len(samples) == 0 {
		return CDFCurve{}, fmt.Errorf("inlier distribution: %w", ErrEmptyRun)
	}

	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return CDFCurve{}, fmt.Errorf("inlier distribution: %w: non-finite sample %v", ErrMalformedRow, v)
		}
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	bins := AdaptiveBinCount(hi, cfg)
	if bins > MaxBins {
		return CDFCurve{}, fmt.Errorf("inlier distribution: %w: max sample %v needs %d bins (limit %d)",
			ErrMalformedRow, hi, bins, MaxBins)
	}

	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram bins are half-open; nudge the top edge so max lands in the last bin
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, sorted, nil)
	floats.Scale(1/floats.Sum(counts), counts)

	descending := make([]float64, bins)
	for i, f := range counts {
		descending[bins-1-i] = f
	}
	cumulative := floats.CumSum(make([]float64, bins), descending)

	fraction := make([]float64, bins)
	for i, c := range cumulative {
		fraction[i] = 1 - c
	}

	edges := append([]float64(nil), dividers[:bins]...)
	return CDFCurve{BinCount: bins, Edges: edges, Fraction: fraction}, nil
}

// RunCDFs computes the inlier distribution of every summary, in run order
func RunCDFs(summaries []RunSummary, cfg DistributionConfig) ([]CDFCurve, error) {
	curves := make([]CDFCurve, 0, len(summaries))
	for _, s := range summaries {
		curve, err := InlierCDF(s.InlierSamples, cfg)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", s.RunIndex, err)
		}
		curve.RunIndex = s.RunIndex
		curves = append(curves, curve)
	}
	return curves, nil
}
