package locstats

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DefaultReferenceTimeOfDay is local noon
const DefaultReferenceTimeOfDay = "12:00"

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "15:04" or "15:04:05"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: time of day %q (want HH:MM or HH:MM:SS)", ErrInvalidConfig, s)
}

// Hours returns the time of day as fractional hours since midnight
func (t TimeOfDay) Hours() float64 {
	return float64(t.Hour) + float64(t.Minute)/60 + float64(t.Second)/3600
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// HoursOfDay returns the wall-clock hours of tm in its own location
func HoursOfDay(tm time.Time) float64 {
	h, m, s := tm.Clock()
	return float64(h) + float64(m)/60 + (float64(s)+float64(tm.Nanosecond())/1e9)/3600
}

// TimeOfDayDistance is the absolute difference in hours between the
// wall-clock time of tm and ref, with the calendar date ignored.
func TimeOfDayDistance(tm time.Time, ref TimeOfDay) float64 {
	return math.Abs(ref.Hours() - HoursOfDay(tm))
}

// NormalizeTimeDistances min-max scales distances into [0, 1]. When every
// distance is equal the scale is undefined and every run gets 0.5.
func NormalizeTimeDistances(distances []float64) []float64 {
	out := make([]float64, len(distances))
	if len(distances) == 0 {
		return out
	}
	lo, hi := floats.Min(distances), floats.Max(distances)
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, d := range distances {
		out[i] = (d - lo) / (hi - lo)
	}
	return out
}

// RunTimeDistances computes each summary's distance from the reference time
// of day and its normalized value across the whole set, in run order.
func RunTimeDistances(summaries []RunSummary, ref TimeOfDay) []TimeDistance {
	hours := make([]float64, len(summaries))
	for i, s := range summaries {
		hours[i] = TimeOfDayDistance(s.Time, ref)
	}
	norm := NormalizeTimeDistances(hours)

	out := make([]TimeDistance, len(summaries))
	for i, s := range summaries {
		out[i] = TimeDistance{RunIndex: s.RunIndex, Hours: hours[i], Normalized: norm[i]}
	}
	return out
}
