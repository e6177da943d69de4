package locstats

import (
	"fmt"
	"math"
)

// SegmentClassifier maps privileged vertex ids to route segments.
// Segments may be unions of disjoint id ranges because the route revisits
// the same physical area in separate parts of the vertex sequence.
type SegmentClassifier struct {
	boundaries []int64
	rules      []SegmentRule
}

// DefaultSegmentRules returns the rule table for a route described by five
// boundaries b0..b4:
//
//	in-training-a      id < b0  or  b1 <= id < b2
//	out-of-training-a  b0 <= id < b1
//	in-training-b      b2 <= id < b3  or  id >= b4
//	out-of-training-b  b3 <= id < b4
func DefaultSegmentRules() []SegmentRule {
	return []SegmentRule{
		{Label: SegmentInTrainingA, Intervals: []Interval{{Lo: -1, Hi: 0}, {Lo: 1, Hi: 2}}},
		{Label: SegmentOutOfTrainingA, Intervals: []Interval{{Lo: 0, Hi: 1}}},
		{Label: SegmentInTrainingB, Intervals: []Interval{{Lo: 2, Hi: 3}, {Lo: 4, Hi: -1}}},
		{Label: SegmentOutOfTrainingB, Intervals: []Interval{{Lo: 3, Hi: 4}}},
	}
}

// NewSegmentClassifier validates the boundary list and rules. Boundaries
// must be strictly increasing and every interval must reference existing
// boundaries with Lo before Hi. An empty rule list selects
// DefaultSegmentRules.
func NewSegmentClassifier(boundaries []int64, rules []SegmentRule) (*SegmentClassifier, error) {
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return nil, fmt.Errorf("%w: boundaries must be strictly increasing (b%d=%d, b%d=%d)",
				ErrInvalidSegmentConfig, i-1, boundaries[i-1], i, boundaries[i])
		}
	}
	if len(rules) == 0 {
		rules = DefaultSegmentRules()
	}

	n := len(boundaries)
	for _, rule := range rules {
		if rule.Label == "" {
			return nil, fmt.Errorf("%w: rule without label", ErrInvalidSegmentConfig)
		}
		if len(rule.Intervals) == 0 {
			return nil, fmt.Errorf("%w: segment %s has no intervals", ErrInvalidSegmentConfig, rule.Label)
		}
		for _, iv := range rule.Intervals {
			if iv.Lo < -1 || iv.Lo >= n || iv.Hi < -1 || iv.Hi >= n {
				return nil, fmt.Errorf("%w: segment %s interval [%d,%d) references missing boundary (have %d)",
					ErrInvalidSegmentConfig, rule.Label, iv.Lo, iv.Hi, n)
			}
			if iv.Lo != -1 && iv.Hi != -1 && iv.Lo >= iv.Hi {
				return nil, fmt.Errorf("%w: segment %s interval [%d,%d) is empty",
					ErrInvalidSegmentConfig, rule.Label, iv.Lo, iv.Hi)
			}
		}
	}

	return &SegmentClassifier{
		boundaries: append([]int64(nil), boundaries...),
		rules:      append([]SegmentRule(nil), rules...),
	}, nil
}

// Labels returns segment labels in rule order without duplicates
func (c *SegmentClassifier) Labels() []SegmentLabel {
	seen := make(map[SegmentLabel]bool, len(c.rules))
	labels := make([]SegmentLabel, 0, len(c.rules))
	for _, r := range c.rules {
		if !seen[r.Label] {
			seen[r.Label] = true
			labels = append(labels, r.Label)
		}
	}
	return labels
}

// bounds resolves an interval to concrete ids [lo, hi)
func (c *SegmentClassifier) bounds(iv Interval) (int64, int64) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if iv.Lo != -1 {
		lo = c.boundaries[iv.Lo]
	}
	if iv.Hi != -1 {
		hi = c.boundaries[iv.Hi]
	}
	return lo, hi
}

// Contains reports whether id falls inside the interval
func (c *SegmentClassifier) Contains(iv Interval, id int64) bool {
	lo, hi := c.bounds(iv)
	if iv.Hi == -1 {
		return id >= lo
	}
	return id >= lo && id < hi
}

// Classify returns the label of the first rule with an interval containing id
func (c *SegmentClassifier) Classify(vertexID int64) (SegmentLabel, error) {
	for _, rule := range c.rules {
		for _, iv := range rule.Intervals {
			if c.Contains(iv, vertexID) {
				return rule.Label, nil
			}
		}
	}
	return "", fmt.Errorf("%w: vertex %d", ErrUnclassifiedVertex, vertexID)
}

// CheckCoverage probes one id from each elementary range
// (-inf,b0), [b0,b1), ..., [bN-1,+inf) and fails if any is unclassified.
// Every rule edge is a boundary, so one probe per range is enough.
func (c *SegmentClassifier) CheckCoverage() error {
	probes := make([]int64, 0, len(c.boundaries)+1)
	if len(c.boundaries) == 0 {
		probes = append(probes, 0)
	} else {
		// no id lies below math.MinInt64, so that range needs no probe
		if c.boundaries[0] > math.MinInt64 {
			probes = append(probes, c.boundaries[0]-1)
		}
		probes = append(probes, c.boundaries...)
	}
	for _, id := range probes {
		if _, err := c.Classify(id); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSegmentConfig, err)
		}
	}
	return nil
}
