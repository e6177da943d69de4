package locstats

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultRunPathPattern locates a repeat's info log under the data dir
	DefaultRunPathPattern = "graph.index/repeats/%d/results/info.csv"
	// DefaultTeachLog locates the teach odometry log under the data dir
	DefaultTeachLog = "run_000000/vo.csv"
	// DefaultRepeatLogPattern locates a repeat's pose log under the data dir
	DefaultRepeatLogPattern = "run_%06d/loc.csv"
)

// LoadConfig loads the configuration from a YAML file, fills defaults and
// validates it. Every error returned here is fatal at startup.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseConfig decodes YAML and fills defaults without validating, so
// callers can apply command-line overrides first.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills unset optional fields
func (c *Config) ApplyDefaults() {
	if c.RunPathPattern == "" {
		c.RunPathPattern = DefaultRunPathPattern
	}
	if c.TeachLog == "" {
		c.TeachLog = DefaultTeachLog
	}
	if c.RepeatLogPattern == "" {
		c.RepeatLogPattern = DefaultRepeatLogPattern
	}
	if c.UnknownVertexPolicy == "" {
		c.UnknownVertexPolicy = UnknownVertexAbort
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.ReferenceTimeOfDay == "" {
		c.ReferenceTimeOfDay = DefaultReferenceTimeOfDay
	}
	if c.Distribution.TargetBins == 0 {
		c.Distribution.TargetBins = DefaultTargetBins
	}
	if c.Distribution.ReferenceMaxInliers == 0 {
		c.Distribution.ReferenceMaxInliers = DefaultReferenceMaxInliers
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = "vtrstats"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "vtrstats"
	}
}

// Validate checks every configured option. Segment boundaries must be
// well formed and cover the whole vertex-id range.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: dataDir is required", ErrInvalidConfig)
	}
	if c.TotalRepeats < 0 {
		return fmt.Errorf("%w: totalRepeats must not be negative", ErrInvalidConfig)
	}
	for i, r := range c.ExcludedRepeats {
		if r < 1 || r > c.TotalRepeats {
			return fmt.Errorf("%w: excludedRepeats[%d]=%d outside 1..%d", ErrInvalidConfig, i, r, c.TotalRepeats)
		}
	}
	if !strings.Contains(c.RunPathPattern, "%") {
		return fmt.Errorf("%w: runPathPattern %q needs a repeat index verb", ErrInvalidConfig, c.RunPathPattern)
	}
	if !strings.Contains(c.RepeatLogPattern, "%") {
		return fmt.Errorf("%w: repeatLogPattern %q needs a repeat index verb", ErrInvalidConfig, c.RepeatLogPattern)
	}
	switch c.UnknownVertexPolicy {
	case UnknownVertexAbort, UnknownVertexSkip:
	default:
		return fmt.Errorf("%w: unknownVertexPolicy %q (want abort or skip)", ErrInvalidConfig, c.UnknownVertexPolicy)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ReferenceTime(); err != nil {
		return err
	}
	if c.Distribution.TargetBins < 1 {
		return fmt.Errorf("%w: distribution.targetBins must be positive", ErrInvalidConfig)
	}
	if c.Distribution.ReferenceMaxInliers <= 0 {
		return fmt.Errorf("%w: distribution.referenceMaxInliers must be positive", ErrInvalidConfig)
	}
	if c.SimplifyTolerance < 0 {
		return fmt.Errorf("%w: simplifyTolerance must not be negative", ErrInvalidConfig)
	}

	classifier, err := c.Classifier()
	if err != nil {
		return err
	}
	if classifier != nil {
		if err := classifier.CheckCoverage(); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// ReferenceTime parses the configured reference time of day
func (c *Config) ReferenceTime() (TimeOfDay, error) {
	ref := c.ReferenceTimeOfDay
	if ref == "" {
		ref = DefaultReferenceTimeOfDay
	}
	return ParseTimeOfDay(ref)
}

// Classifier builds the segment classifier, or returns nil when no
// boundaries are configured.
func (c *Config) Classifier() (*SegmentClassifier, error) {
	if len(c.Segments.Boundaries) == 0 && len(c.Segments.Rules) == 0 {
		return nil, nil
	}
	return NewSegmentClassifier(c.Segments.Boundaries, c.Segments.Rules)
}

// TeachLogPath resolves the teach odometry log
func (c *Config) TeachLogPath() string {
	return joinData(c.DataDir, c.TeachLog)
}

// RepeatLogPath resolves a repeat's pose log
func (c *Config) RepeatLogPath(run int) string {
	return joinData(c.DataDir, fmt.Sprintf(c.RepeatLogPattern, run))
}

func joinData(dir, rel string) string {
	if dir == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(dir, rel)
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		c.MQTT.PublishPrefix = v
	}
}

// ParseRunList parses a repeat list such as "6,7,10-12" from the --exclude
// flag. Ranges are inclusive.
func ParseRunList(s string) ([]int, error) {
	var runs []int
	if strings.TrimSpace(s) == "" {
		return runs, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid run range %q: %w", part, err)
			}
			b, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid run range %q: %w", part, err)
			}
			if b < a {
				return nil, fmt.Errorf("invalid run range %q: end before start", part)
			}
			for r := a; r <= b; r++ {
				runs = append(runs, r)
			}
			continue
		}
		r, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid run %q: %w", part, err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}
