package locstats

import (
	"errors"
	"fmt"
)

// TrajectoryPoint is one repeat keyframe placed in the teach frame
type TrajectoryPoint struct {
	Timestamp          int64 `json:"timestamp"`
	PrivilegedVertexID int64 `json:"privilegedVertexId"`
	Local              Vec4  `json:"local"` // query position relative to the privileged vertex
	World              Vec4  `json:"world"`
}

// TrajectoryResult is a composed repeat trajectory. Skipped counts records
// dropped under UnknownVertexSkip.
type TrajectoryResult struct {
	RunIndex int               `json:"runIndex"`
	Points   []TrajectoryPoint `json:"points"`
	Skipped  int               `json:"skipped"`
}

// ComposeWorldPose maps a record's relative position into the teach frame:
// world = T(privileged vertex) * [x y z 1]^T.
func ComposeWorldPose(rec LocalizationRecord, table TransformTable) (Vec4, error) {
	mapT, err := table.Lookup(rec.PrivilegedVertexID)
	if err != nil {
		return Vec4{}, err
	}
	return mapT.Apply(rec.QueryInMap), nil
}

// ComposeTrajectory composes every record of one repeat run in order.
// Under UnknownVertexAbort the first unknown vertex fails the run; under
// UnknownVertexSkip the record is dropped and counted.
func ComposeTrajectory(run int, records []LocalizationRecord, table TransformTable, policy UnknownVertexPolicy) (TrajectoryResult, error) {
	result := TrajectoryResult{
		RunIndex: run,
		Points:   make([]TrajectoryPoint, 0, len(records)),
	}

	for i, rec := range records {
		world, err := ComposeWorldPose(rec, table)
		if err != nil {
			if policy == UnknownVertexSkip && errors.Is(err, ErrUnknownVertexReference) {
				result.Skipped++
				continue
			}
			return TrajectoryResult{}, &RunError{RunIndex: run, Record: i, Err: err}
		}
		result.Points = append(result.Points, TrajectoryPoint{
			Timestamp:          rec.Timestamp,
			PrivilegedVertexID: rec.PrivilegedVertexID,
			Local:              rec.QueryInMap,
			World:              world,
		})
	}

	if len(result.Points) == 0 && len(records) > 0 {
		return TrajectoryResult{}, &RunError{RunIndex: run, Record: absent,
			Err: fmt.Errorf("%w: all %d records reference unknown vertices", ErrEmptyRun, len(records))}
	}
	return result, nil
}

// LoadTrajectory reads a repeat pose log and composes it against the table
func LoadTrajectory(run int, path string, table TransformTable, policy UnknownVertexPolicy) (TrajectoryResult, error) {
	records, err := ReadLocalizationLog(path, PoseSchema())
	if err != nil {
		return TrajectoryResult{}, &RunError{RunIndex: run, Path: path, Record: absent, Err: err}
	}
	result, err := ComposeTrajectory(run, records, table, policy)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			runErr.Path = path
		}
		return TrajectoryResult{}, err
	}
	return result, nil
}
