package locstats

import "time"

// Vec4 is a homogeneous 3D point (x, y, z, w). Points carry w = 1.
type Vec4 [4]float64

// Point returns the homogeneous point (x, y, z, 1)
func Point(x, y, z float64) Vec4 {
	return Vec4{x, y, z, 1}
}

// XYZ drops the homogeneous coordinate
func (v Vec4) XYZ() [3]float64 {
	return [3]float64{v[0], v[1], v[2]}
}

// OdometryRecord is one row of a teach run's integrated odometry log.
type OdometryRecord struct {
	Timestamp int64      `json:"timestamp"`
	VertexID  int64      `json:"vertexId"`
	Position  [3]float64 `json:"position"`
	Transform Transform  `json:"transform"` // pose of the vertex in the teach frame
}

// LocalizationRecord is one localization event from a repeat run.
// Fields that are not present in the log variant being read stay zero.
type LocalizationRecord struct {
	Timestamp           int64   `json:"timestamp"` // nanoseconds since epoch
	LiveVertexID        int64   `json:"liveVertexId"`
	PrivilegedVertexID  int64   `json:"privilegedVertexId"`
	Success             bool    `json:"success"`
	InliersRGB          float64 `json:"inliersRgb"`
	InliersGray         float64 `json:"inliersGray"`
	InliersCC           float64 `json:"inliersCc"`
	WindowTemporalDepth int     `json:"windowTemporalDepth"`
	WindowNumVertices   int     `json:"windowNumVertices"`
	ComputationTimeMs   float64 `json:"computationTimeMs"`
	QueryInMap          Vec4    `json:"queryInMap"` // query pose relative to the privileged vertex
}

// SegmentLabel names one partition of the route's vertex-id space
type SegmentLabel string

// Default labels for the five-boundary route layout
const (
	SegmentInTrainingA    SegmentLabel = "in-training-a"
	SegmentOutOfTrainingA SegmentLabel = "out-of-training-a"
	SegmentInTrainingB    SegmentLabel = "in-training-b"
	SegmentOutOfTrainingB SegmentLabel = "out-of-training-b"
)

// RunSummary holds the aggregate statistics of one retained repeat run.
type RunSummary struct {
	RunIndex              int                      `json:"runIndex"`
	Timestamp             int64                    `json:"timestamp"`
	Time                  time.Time                `json:"time"`
	RecordCount           int                      `json:"recordCount"`
	MeanInliers           float64                  `json:"meanInliers"`
	MeanComputationTimeMs float64                  `json:"meanComputationTimeMs"`
	SuccessRate           float64                  `json:"successRate"`
	SegmentMeanInliers    map[SegmentLabel]float64 `json:"segmentMeanInliers,omitempty"`
	SegmentCounts         map[SegmentLabel]int     `json:"segmentCounts,omitempty"`
	InlierSamples         []float64                `json:"-"`
}

// RunFailure reports a run that could not be summarized. Message is the
// rendered error so failures survive JSON encoding.
type RunFailure struct {
	RunIndex int    `json:"runIndex"`
	Path     string `json:"path"`
	Message  string `json:"error"`
	Err      error  `json:"-"`
}

// AggregateResult is the output of one aggregation pass
type AggregateResult struct {
	Summaries []RunSummary `json:"summaries"`
	Failures  []RunFailure `json:"failures"`
}

// CDFCurve is the adaptive cumulative inlier distribution of one run.
// Fraction[i] pairs with the lower bin edge Edges[i].
type CDFCurve struct {
	RunIndex int       `json:"runIndex"`
	BinCount int       `json:"binCount"`
	Edges    []float64 `json:"edges"`
	Fraction []float64 `json:"fraction"`
}

// TimeDistance pairs a run with its distance from the reference time of day
type TimeDistance struct {
	RunIndex   int     `json:"runIndex"`
	Hours      float64 `json:"hours"`
	Normalized float64 `json:"normalized"`
}

// UnknownVertexPolicy decides what trajectory composition does with records
// whose privileged vertex is missing from the transform table.
type UnknownVertexPolicy string

const (
	UnknownVertexAbort UnknownVertexPolicy = "abort"
	UnknownVertexSkip  UnknownVertexPolicy = "skip"
)

// Interval is a half-open range [Boundaries[Lo], Boundaries[Hi]) given as
// indices into the configured boundary list. -1 leaves that side unbounded.
type Interval struct {
	Lo int `yaml:"lo" json:"lo"`
	Hi int `yaml:"hi" json:"hi"`
}

// SegmentRule assigns Label to every vertex id inside any of its intervals
type SegmentRule struct {
	Label     SegmentLabel `yaml:"label" json:"label"`
	Intervals []Interval   `yaml:"intervals" json:"intervals"`
}

// SegmentConfig holds the route partition. Boundaries must be strictly
// increasing; Rules are tried in order and the first match wins. Leaving
// Rules empty with five or more boundaries selects DefaultSegmentRules.
// Leaving both empty disables segment statistics.
type SegmentConfig struct {
	Boundaries []int64       `yaml:"boundaries,omitempty" json:"boundaries,omitempty"`
	Rules      []SegmentRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// DistributionConfig controls adaptive CDF binning.
type DistributionConfig struct {
	// TargetBins is the bin count used for a run whose maximum inlier count
	// equals ReferenceMaxInliers.
	TargetBins int `yaml:"targetBins,omitempty" json:"targetBins,omitempty"`
	// ReferenceMaxInliers scales the bin count so bin width stays comparable
	// across runs with different inlier ranges.
	ReferenceMaxInliers float64 `yaml:"referenceMaxInliers,omitempty" json:"referenceMaxInliers,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// StoreConfig locates the SQLite trend database. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	// Dataset names the route/experiment; it keys rows in the summary store.
	Dataset string `yaml:"dataset" json:"dataset"`
	// DataDir is the root of the experiment's result tree.
	DataDir string `yaml:"dataDir" json:"dataDir"`
	// TotalRepeats is the number of repeat runs, numbered 1..TotalRepeats.
	TotalRepeats int `yaml:"totalRepeats" json:"totalRepeats"`
	// ExcludedRepeats lists 1-based repeat indices that are never loaded.
	ExcludedRepeats []int `yaml:"excludedRepeats,omitempty" json:"excludedRepeats,omitempty"`
	// RunPathPattern is the per-repeat info log relative to DataDir, with a
	// %d verb for the repeat index.
	RunPathPattern string `yaml:"runPathPattern,omitempty" json:"runPathPattern,omitempty"`
	// TeachLog is the teach odometry log relative to DataDir.
	TeachLog string `yaml:"teachLog,omitempty" json:"teachLog,omitempty"`
	// RepeatLogPattern is the per-repeat pose log relative to DataDir, with a
	// %d verb for the repeat index.
	RepeatLogPattern string `yaml:"repeatLogPattern,omitempty" json:"repeatLogPattern,omitempty"`
	// UnknownVertexPolicy is "abort" (default) or "skip".
	UnknownVertexPolicy UnknownVertexPolicy `yaml:"unknownVertexPolicy,omitempty" json:"unknownVertexPolicy,omitempty"`
	// Timezone is the IANA zone used to derive time of day. Default "Local".
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	// ReferenceTimeOfDay ("15:04" or "15:04:05") is the zero point of the
	// time-distance feature. Default "12:00".
	ReferenceTimeOfDay string `yaml:"referenceTimeOfDay,omitempty" json:"referenceTimeOfDay,omitempty"`
	// SimplifyTolerance, when positive, decimates exported trajectories with
	// Douglas-Peucker at this distance (metres).
	SimplifyTolerance float64 `yaml:"simplifyTolerance,omitempty" json:"simplifyTolerance,omitempty"`

	Distribution DistributionConfig `yaml:"distribution,omitempty" json:"distribution,omitempty"`
	Segments     SegmentConfig      `yaml:"segments,omitempty" json:"segments,omitempty"`
	MQTT         MQTTConfig         `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty" json:"store,omitempty"`
}
