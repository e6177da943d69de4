package locstats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// absent marks a schema column the log variant does not carry
const absent = -1

// OdometrySchema gives the column positions of a teach odometry log.
// The transform occupies 16 consecutive columns in column-major order.
type OdometrySchema struct {
	Timestamp      int
	VertexID       int
	Position       [3]int
	TransformStart int
}

// DefaultOdometrySchema matches vo.csv: timestamp, run, vertex, x, y, z,
// then T(0,0), T(1,0), ... T(3,3).
func DefaultOdometrySchema() OdometrySchema {
	return OdometrySchema{
		Timestamp:      0,
		VertexID:       2,
		Position:       [3]int{3, 4, 5},
		TransformStart: 6,
	}
}

func (s OdometrySchema) minColumns() int {
	return maxColumn(s.Timestamp, s.VertexID, s.Position[0], s.Position[1], s.Position[2], s.TransformStart+15) + 1
}

// LocalizationSchema gives the column positions of a repeat localization
// log. Columns set to -1 are not read.
type LocalizationSchema struct {
	Timestamp           int
	LiveVertexID        int
	PrivilegedVertexID  int
	Success             int
	InliersRGB          int
	InliersGray         int
	InliersCC           int
	WindowTemporalDepth int
	WindowNumVertices   int
	ComputationTimeMs   int
	Position            [3]int
}

// InfoSchema matches the per-repeat info.csv used for quality statistics.
func InfoSchema() LocalizationSchema {
	return LocalizationSchema{
		Timestamp:           0,
		LiveVertexID:        1,
		PrivilegedVertexID:  2,
		Success:             3,
		InliersRGB:          4,
		InliersGray:         5,
		InliersCC:           6,
		WindowTemporalDepth: 7,
		WindowNumVertices:   8,
		ComputationTimeMs:   9,
		Position:            [3]int{absent, absent, absent},
	}
}

// PoseSchema matches loc.csv, which carries the query position relative to
// the privileged (map) vertex instead of match statistics.
func PoseSchema() LocalizationSchema {
	return LocalizationSchema{
		Timestamp:           0,
		LiveVertexID:        1,
		PrivilegedVertexID:  4,
		Success:             absent,
		InliersRGB:          absent,
		InliersGray:         absent,
		InliersCC:           absent,
		WindowTemporalDepth: absent,
		WindowNumVertices:   absent,
		ComputationTimeMs:   absent,
		Position:            [3]int{6, 7, 8},
	}
}

func (s LocalizationSchema) minColumns() int {
	return maxColumn(s.Timestamp, s.LiveVertexID, s.PrivilegedVertexID, s.Success,
		s.InliersRGB, s.InliersGray, s.InliersCC, s.WindowTemporalDepth,
		s.WindowNumVertices, s.ComputationTimeMs,
		s.Position[0], s.Position[1], s.Position[2]) + 1
}

func maxColumn(cols ...int) int {
	m := absent
	for _, c := range cols {
		if c > m {
			m = c
		}
	}
	return m
}

// ReadRows reads a comma-separated log, drops the header row and returns
// the remaining rows in file order. Every row must have at least
// minColumns fields.
func ReadRows(path string, minColumns int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	line := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &RowError{Path: path, Line: line, Column: absent, Err: fmt.Errorf("%w: %v", ErrMalformedRow, err)}
		}
		if line == 1 {
			continue
		}
		if len(row) < minColumns {
			return nil, &RowError{
				Path:   path,
				Line:   line,
				Column: len(row),
				Err:    fmt.Errorf("%w: %d columns, need %d", ErrMalformedRow, len(row), minColumns),
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rowParser converts positional fields and keeps the first failure, so a
// record can be filled field by field and checked once.
type rowParser struct {
	path string
	line int
	row  []string
	err  error
}

func (p *rowParser) fail(col int, err error) {
	if p.err == nil {
		p.err = &RowError{Path: p.path, Line: p.line, Column: col, Err: fmt.Errorf("%w: %v", ErrMalformedRow, err)}
	}
}

func (p *rowParser) int64(col int) int64 {
	if col == absent || p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(p.row[col]), 10, 64)
	if err != nil {
		p.fail(col, err)
	}
	return v
}

func (p *rowParser) int(col int) int {
	return int(p.int64(col))
}

func (p *rowParser) float(col int) float64 {
	if col == absent || p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p.row[col]), 64)
	if err != nil {
		p.fail(col, err)
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		p.fail(col, fmt.Errorf("non-finite value %q", p.row[col]))
		return 0
	}
	return v
}

func (p *rowParser) bool(col int) bool {
	if col == absent || p.err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(p.row[col])) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	p.fail(col, fmt.Errorf("invalid boolean %q", p.row[col]))
	return false
}

// ReadOdometryLog parses a teach run's odometry log
func ReadOdometryLog(path string, schema OdometrySchema) ([]OdometryRecord, error) {
	rows, err := ReadRows(path, schema.minColumns())
	if err != nil {
		return nil, err
	}

	records := make([]OdometryRecord, 0, len(rows))
	for i, row := range rows {
		p := &rowParser{path: path, line: i + 2, row: row}
		rec := OdometryRecord{
			Timestamp: p.int64(schema.Timestamp),
			VertexID:  p.int64(schema.VertexID),
		}
		for k, col := range schema.Position {
			rec.Position[k] = p.float(col)
		}
		values := make([]float64, 16)
		for k := range values {
			values[k] = p.float(schema.TransformStart + k)
		}
		if p.err != nil {
			return nil, p.err
		}
		t, err := TransformFromColumnMajor(values)
		if err != nil {
			return nil, &RowError{Path: path, Line: i + 2, Column: schema.TransformStart, Err: err}
		}
		rec.Transform = t
		records = append(records, rec)
	}
	return records, nil
}

// ReadLocalizationLog parses a repeat run's localization log
func ReadLocalizationLog(path string, schema LocalizationSchema) ([]LocalizationRecord, error) {
	rows, err := ReadRows(path, schema.minColumns())
	if err != nil {
		return nil, err
	}

	records := make([]LocalizationRecord, 0, len(rows))
	for i, row := range rows {
		p := &rowParser{path: path, line: i + 2, row: row}
		rec := LocalizationRecord{
			Timestamp:           p.int64(schema.Timestamp),
			LiveVertexID:        p.int64(schema.LiveVertexID),
			PrivilegedVertexID:  p.int64(schema.PrivilegedVertexID),
			Success:             p.bool(schema.Success),
			InliersRGB:          p.float(schema.InliersRGB),
			InliersGray:         p.float(schema.InliersGray),
			InliersCC:           p.float(schema.InliersCC),
			WindowTemporalDepth: p.int(schema.WindowTemporalDepth),
			WindowNumVertices:   p.int(schema.WindowNumVertices),
			ComputationTimeMs:   p.float(schema.ComputationTimeMs),
			QueryInMap: Point(
				p.float(schema.Position[0]),
				p.float(schema.Position[1]),
				p.float(schema.Position[2]),
			),
		}
		if p.err != nil {
			return nil, p.err
		}
		records = append(records, rec)
	}
	return records, nil
}
