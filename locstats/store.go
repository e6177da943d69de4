package locstats

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// schema.sql creates the run_summaries table keyed by dataset and repeat index.
//
//go:embed schema.sql
var schemaSQL string

// SummaryStore persists run summaries so trends can be compared across
// aggregation passes and datasets.
type SummaryStore struct {
	*sql.DB
	location *time.Location
}

// OpenSummaryStore opens (or creates) the SQLite database at path
func OpenSummaryStore(path string, loc *time.Location) (*SummaryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening summary store: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating summary schema: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	log.Printf("[STORE] initialized summary store at %s", path)
	return &SummaryStore{DB: db, location: loc}, nil
}

// SaveSummaries upserts every summary for a dataset in one transaction
func (s *SummaryStore) SaveSummaries(dataset string, summaries []RunSummary) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO run_summaries (dataset, run_index, timestamp_ns, record_count,
			mean_inliers, mean_comp_time_ms, success_rate, segments_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset, run_index) DO UPDATE SET
			timestamp_ns = excluded.timestamp_ns,
			record_count = excluded.record_count,
			mean_inliers = excluded.mean_inliers,
			mean_comp_time_ms = excluded.mean_comp_time_ms,
			success_rate = excluded.success_rate,
			segments_json = excluded.segments_json,
			write_timestamp = UNIXEPOCH('subsec')
	`)
	if err != nil {
		return fmt.Errorf("preparing summary insert: %w", err)
	}
	defer stmt.Close()

	for _, sum := range summaries {
		segments, err := json.Marshal(storedSegments{Means: sum.SegmentMeanInliers, Counts: sum.SegmentCounts})
		if err != nil {
			return fmt.Errorf("marshaling segments for run %d: %w", sum.RunIndex, err)
		}
		if _, err := stmt.Exec(dataset, sum.RunIndex, sum.Timestamp, sum.RecordCount,
			sum.MeanInliers, sum.MeanComputationTimeMs, sum.SuccessRate, string(segments)); err != nil {
			return fmt.Errorf("storing run %d: %w", sum.RunIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing summaries: %w", err)
	}
	return nil
}

type storedSegments struct {
	Means  map[SegmentLabel]float64 `json:"means,omitempty"`
	Counts map[SegmentLabel]int     `json:"counts,omitempty"`
}

// ListSummaries returns a dataset's stored summaries in run order. Inlier
// samples are not stored, so InlierSamples is always nil.
func (s *SummaryStore) ListSummaries(dataset string) ([]RunSummary, error) {
	rows, err := s.Query(`
		SELECT run_index, timestamp_ns, record_count, mean_inliers,
			mean_comp_time_ms, success_rate, segments_json
		FROM run_summaries
		WHERE dataset = ?
		ORDER BY run_index
	`, dataset)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	summaries := []RunSummary{}
	for rows.Next() {
		var sum RunSummary
		var segments string
		if err := rows.Scan(&sum.RunIndex, &sum.Timestamp, &sum.RecordCount, &sum.MeanInliers,
			&sum.MeanComputationTimeMs, &sum.SuccessRate, &segments); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		var seg storedSegments
		if err := json.Unmarshal([]byte(segments), &seg); err != nil {
			return nil, fmt.Errorf("decoding segments for run %d: %w", sum.RunIndex, err)
		}
		sum.SegmentMeanInliers = seg.Means
		sum.SegmentCounts = seg.Counts
		sum.Time = time.Unix(0, sum.Timestamp).In(s.location)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Datasets lists the datasets with stored summaries
func (s *SummaryStore) Datasets() ([]string, error) {
	rows, err := s.Query(`SELECT DISTINCT dataset FROM run_summaries ORDER BY dataset`)
	if err != nil {
		return nil, fmt.Errorf("querying datasets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning dataset: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
