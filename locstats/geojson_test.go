package locstats

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeachLineString(t *testing.T) {
	records := []OdometryRecord{
		{VertexID: 0, Position: [3]float64{0, 0, 0}},
		{VertexID: 1, Position: [3]float64{3, 0, 1}},
		{VertexID: 2, Position: [3]float64{3, 4, 2}},
	}

	ls := TeachLineString(records)
	assert.Equal(t, orb.LineString{{0, 0}, {3, 0}, {3, 4}}, ls)
	assert.InDelta(t, 7.0, PathLength(ls), 1e-12)
}

func TestSimplifyPath(t *testing.T) {
	ls := orb.LineString{{0, 0}, {1, 0.01}, {2, 0}, {3, 0}}

	assert.Equal(t, ls, SimplifyPath(ls, 0), "zero tolerance keeps the path")

	simplified := SimplifyPath(ls, 0.1)
	assert.Equal(t, orb.LineString{{0, 0}, {3, 0}}, simplified)
	assert.Len(t, ls, 4, "input must not be modified")
}

func TestTrajectoryFeatureCollection(t *testing.T) {
	teach := []OdometryRecord{
		{Position: [3]float64{0, 0, 0}},
		{Position: [3]float64{1, 0, 0}},
	}
	runs := []TrajectoryResult{
		{
			RunIndex: 3,
			Skipped:  1,
			Points: []TrajectoryPoint{
				{World: Vec4{0, 1, 0, 1}},
				{World: Vec4{1, 1, 0, 1}},
			},
		},
		{RunIndex: 4},
	}

	fc := TrajectoryFeatureCollection(teach, runs, 0)
	require.Len(t, fc.Features, 2)

	teachFeature := fc.Features[0]
	assert.Equal(t, "teach", teachFeature.Properties["kind"])
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}}, teachFeature.Geometry)

	repeat := fc.Features[1]
	assert.Equal(t, "repeat", repeat.Properties["kind"])
	assert.Equal(t, 3, repeat.Properties["runIndex"])
	assert.Equal(t, 1, repeat.Properties["skipped"])
	assert.Equal(t, orb.LineString{{0, 1}, {1, 1}}, repeat.Geometry)

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	decoded, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, decoded.Features, 2)
	assert.Equal(t, float64(3), decoded.Features[1].Properties.MustFloat64("runIndex"))
}
