package locstats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform is a 4x4 homogeneous transform indexed [row][col].
type Transform [4][4]float64

// TransformTable maps teach vertex ids to their pose in the teach frame.
// It is read-only once built.
type TransformTable map[int64]Transform

// Identity4 returns the identity transform
func Identity4() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation4 creates a translation-only transform
func Translation4(x, y, z float64) Transform {
	t := Identity4()
	t[0][3] = x
	t[1][3] = y
	t[2][3] = z
	return t
}

// RotationZ4 creates a rotation about the z axis (radians) followed by a translation
func RotationZ4(theta, x, y, z float64) Transform {
	t := Translation4(x, y, z)
	c, s := math.Cos(theta), math.Sin(theta)
	t[0][0], t[0][1] = c, -s
	t[1][0], t[1][1] = s, c
	return t
}

// TransformFromColumnMajor reshapes 16 values serialized column by column
// into a transform: M[i][j] = v[j*4+i].
func TransformFromColumnMajor(v []float64) (Transform, error) {
	var t Transform
	if len(v) != 16 {
		return t, fmt.Errorf("%w: transform needs 16 values, got %d", ErrMalformedRow, len(v))
	}
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			t[i][j] = v[j*4+i]
		}
	}
	return t, nil
}

// ColumnMajor serializes the transform the way the odometry log stores it
func (t Transform) ColumnMajor() []float64 {
	v := make([]float64, 16)
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			v[j*4+i] = t[i][j]
		}
	}
	return v
}

// Dense copies the transform into a gonum matrix
func (t Transform) Dense() *mat.Dense {
	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, t[i][:]...)
	}
	return mat.NewDense(4, 4, data)
}

func transformFromMatrix(m mat.Matrix) Transform {
	var t Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			t[i][j] = m.At(i, j)
		}
	}
	return t
}

// Mul composes two transforms: result = t * o.
// Applying the result is equivalent to applying o first, then t.
func (t Transform) Mul(o Transform) Transform {
	var out mat.Dense
	out.Mul(t.Dense(), o.Dense())
	return transformFromMatrix(&out)
}

// Inverse returns t^-1. Singular or ill-conditioned transforms are an error.
func (t Transform) Inverse() (Transform, error) {
	var inv mat.Dense
	if err := inv.Inverse(t.Dense()); err != nil {
		return Transform{}, fmt.Errorf("inverting transform: %w", err)
	}
	return transformFromMatrix(&inv), nil
}

// Apply multiplies the transform with a homogeneous point
func (t Transform) Apply(p Vec4) Vec4 {
	var out mat.VecDense
	out.MulVec(t.Dense(), mat.NewVecDense(4, p[:]))
	return Vec4{out.AtVec(0), out.AtVec(1), out.AtVec(2), out.AtVec(3)}
}

// Translation returns the translation column
func (t Transform) Translation() [3]float64 {
	return [3]float64{t[0][3], t[1][3], t[2][3]}
}

// BuildTransformTable indexes odometry records by vertex id. A vertex id
// that appears more than once keeps its last transform: logs reuse ids when
// the teach run revisits a vertex.
func BuildTransformTable(records []OdometryRecord) TransformTable {
	table := make(TransformTable, len(records))
	for _, rec := range records {
		table[rec.VertexID] = rec.Transform
	}
	return table
}

// LoadTransformTable reads a teach odometry log and builds its transform table
func LoadTransformTable(path string, schema OdometrySchema) (TransformTable, error) {
	records, err := ReadOdometryLog(path, schema)
	if err != nil {
		return nil, fmt.Errorf("loading teach log: %w", err)
	}
	return BuildTransformTable(records), nil
}

// Lookup returns the transform for a vertex id
func (tt TransformTable) Lookup(vertexID int64) (Transform, error) {
	t, ok := tt[vertexID]
	if !ok {
		return Transform{}, fmt.Errorf("%w: vertex %d", ErrUnknownVertexReference, vertexID)
	}
	return t, nil
}
