package locstats

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// TeachLineString returns the teach path in the x-y plane, in log order
func TeachLineString(records []OdometryRecord) orb.LineString {
	ls := make(orb.LineString, len(records))
	for i, rec := range records {
		ls[i] = orb.Point{rec.Position[0], rec.Position[1]}
	}
	return ls
}

// TrajectoryLineString returns a composed repeat trajectory in the x-y plane
func TrajectoryLineString(points []TrajectoryPoint) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orb.Point{p.World[0], p.World[1]}
	}
	return ls
}

// PathLength returns the planar length of a path in the log's units
func PathLength(ls orb.LineString) float64 {
	return planar.Length(ls)
}

// SimplifyPath decimates a path with Douglas-Peucker. A non-positive
// tolerance returns the path unchanged.
func SimplifyPath(ls orb.LineString, tolerance float64) orb.LineString {
	if tolerance <= 0 || len(ls) < 3 {
		return ls
	}
	simplified := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
	result, ok := simplified.(orb.LineString)
	if !ok {
		return ls
	}
	return result
}

// TrajectoryFeatureCollection builds a FeatureCollection with the teach
// path followed by one LineString per repeat trajectory. Coordinates are
// teach-frame x and y; the run index, point count, skipped records and
// path length are attached as properties.
func TrajectoryFeatureCollection(teach []OdometryRecord, runs []TrajectoryResult, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(teach) > 0 {
		ls := TeachLineString(teach)
		f := geojson.NewFeature(SimplifyPath(ls, tolerance))
		f.Properties["kind"] = "teach"
		f.Properties["vertices"] = len(teach)
		f.Properties["length"] = PathLength(ls)
		fc.Append(f)
	}

	for _, run := range runs {
		if len(run.Points) == 0 {
			continue
		}
		ls := TrajectoryLineString(run.Points)
		f := geojson.NewFeature(SimplifyPath(ls, tolerance))
		f.Properties["kind"] = "repeat"
		f.Properties["runIndex"] = run.RunIndex
		f.Properties["points"] = len(run.Points)
		f.Properties["skipped"] = run.Skipped
		f.Properties["length"] = PathLength(ls)
		fc.Append(f)
	}

	return fc
}
