package augment

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"tilefeed/pkg/geometry"
	"tilefeed/pkg/ndarray"
)

// ErrSingularTransform is returned for shear angles that collapse the plane.
var ErrSingularTransform = errors.New("singular affine transform")

// Transform returns the 3x3 homogeneous matrix that rotates and then shears
// (angles in degrees) a plane of rows x cols about its centre. It acts on
// (col, row, 1) column vectors.
func Transform(rows, cols int, rotation, shear float64) *mat.Dense {
	rot := rotation * math.Pi / 180
	sh := shear * math.Pi / 180
	cx, cy := float64(cols-1)/2, float64(rows-1)/2

	toOrigin := mat.NewDense(3, 3, []float64{
		1, 0, -cx,
		0, 1, -cy,
		0, 0, 1,
	})
	rotShear := mat.NewDense(3, 3, []float64{
		math.Cos(rot), -math.Sin(rot + sh), 0,
		math.Sin(rot), math.Cos(rot + sh), 0,
		0, 0, 1,
	})
	fromOrigin := mat.NewDense(3, 3, []float64{
		1, 0, cx,
		0, 1, cy,
		0, 0, 1,
	})

	var m mat.Dense
	m.Product(fromOrigin, rotShear, toOrigin)
	return &m
}

// Warp rotates and then shears every plane spanned by the last two axes of
// a about the plane's centre. Output pixels take the nearest input pixel;
// coordinates falling outside the plane are mirrored back in.
func Warp[T any](a *ndarray.Array[T], rotation, shear float64) (*ndarray.Array[T], error) {
	if a.Rank() < 2 {
		return nil, errors.Wrapf(geometry.ErrDimensionMismatch, "warp needs at least 2 axes, got %v", a.Shape())
	}
	if math.Abs(math.Cos(shear*math.Pi/180)) < 1e-9 {
		return nil, errors.Wrapf(ErrSingularTransform, "shear angle %g", shear)
	}
	rows, cols := a.Dim(-2), a.Dim(-1)

	var inv mat.Dense
	if err := inv.Inverse(Transform(rows, cols, rotation, shear)); err != nil {
		return nil, errors.Wrapf(ErrSingularTransform, "rotation %g shear %g: %v", rotation, shear, err)
	}

	// The source lookup is the same for every plane.
	lookup := make([]int, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			fc, fr := float64(c), float64(r)
			srcCol := inv.At(0, 0)*fc + inv.At(0, 1)*fr + inv.At(0, 2)
			srcRow := inv.At(1, 0)*fc + inv.At(1, 1)*fr + inv.At(1, 2)
			sr := ndarray.ReflectIndex(int(math.Floor(srcRow+0.5)), rows)
			sc := ndarray.ReflectIndex(int(math.Floor(srcCol+0.5)), cols)
			lookup[r*cols+c] = sr*cols + sc
		}
	}

	out := ndarray.New[T](a.Shape()...)
	src, dst := a.Data(), out.Data()
	plane := rows * cols
	for p := 0; p < a.Planes(); p++ {
		base := p * plane
		for i, s := range lookup {
			dst[base+i] = src[base+s]
		}
	}
	return out, nil
}
