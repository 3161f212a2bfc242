package ndarray

import (
	"github.com/pkg/errors"
)

// gather builds an array whose element at multi-index idx is read from
// a at (maps[0][idx[0]], maps[1][idx[1]], ...). Every separable geometric
// operation (window, pad, flip, crop) is a gather with per-axis maps.
func gather[T any](a *Array[T], maps [][]int) *Array[T] {
	shape := make([]int, len(maps))
	for d, m := range maps {
		shape[d] = len(m)
	}
	out := New[T](shape...)
	if len(out.data) == 0 {
		return out
	}
	if len(shape) == 0 {
		out.data[0] = a.data[0]
		return out
	}

	last := len(shape) - 1
	idx := make([]int, len(shape))
	// base holds the source offset contributed by all axes but the last.
	base := 0
	for d := 0; d < last; d++ {
		base += maps[d][0] * a.strides[d]
	}
	lastMap, lastStride := maps[last], a.strides[last]
	pos := 0
	for {
		for _, src := range lastMap {
			out.data[pos] = a.data[base+src*lastStride]
			pos++
		}
		// Advance the odometer over the leading axes.
		d := last - 1
		for ; d >= 0; d-- {
			base -= maps[d][idx[d]] * a.strides[d]
			idx[d]++
			if idx[d] < shape[d] {
				base += maps[d][idx[d]] * a.strides[d]
				break
			}
			idx[d] = 0
			base += maps[d][0] * a.strides[d]
		}
		if d < 0 {
			return out
		}
	}
}

func identityMaps(shape []int) [][]int {
	maps := make([][]int, len(shape))
	for d, n := range shape {
		maps[d] = rangeMap(0, n)
	}
	return maps
}

func rangeMap(start, n int) []int {
	m := make([]int, n)
	for i := range m {
		m[i] = start + i
	}
	return m
}

func (a *Array[T]) checkPosSize(pos, size []int) error {
	if len(pos) != len(a.shape) || len(size) != len(a.shape) {
		return errors.Wrapf(ErrShape, "pos %v and size %v must have rank %d", pos, size, len(a.shape))
	}
	return nil
}

// Window copies the sub-array starting at pos with extent size. The window
// must lie inside the array.
func (a *Array[T]) Window(pos, size []int) (*Array[T], error) {
	if err := a.checkPosSize(pos, size); err != nil {
		return nil, err
	}
	maps := make([][]int, len(pos))
	for d := range pos {
		if pos[d] < 0 || size[d] < 0 || pos[d]+size[d] > a.shape[d] {
			return nil, errors.Wrapf(ErrShape, "window pos %v size %v outside shape %v", pos, size, a.shape)
		}
		maps[d] = rangeMap(pos[d], size[d])
	}
	return gather(a, maps), nil
}

// ReflectIndex maps any integer index onto [0, n) by symmetric reflection:
// the sequence is mirrored at both edges without repeating the edge element
// a second time, i.e. ... c b a | a b c | c b a ... , repeating with period 2n.
func ReflectIndex(i, n int) int {
	period := 2 * n
	m := i % period
	if m < 0 {
		m += period
	}
	if m >= n {
		m = period - 1 - m
	}
	return m
}

// PadSymmetric extends every axis d by lower[d] elements before and upper[d]
// elements after, filled by symmetric reflection (see ReflectIndex). Pad
// widths larger than the axis keep reflecting, so any width is valid.
func (a *Array[T]) PadSymmetric(lower, upper []int) (*Array[T], error) {
	if err := a.checkPosSize(lower, upper); err != nil {
		return nil, err
	}
	maps := make([][]int, len(a.shape))
	for d, n := range a.shape {
		if lower[d] < 0 || upper[d] < 0 {
			return nil, errors.Wrapf(ErrShape, "negative padding %v/%v", lower, upper)
		}
		if n == 0 && lower[d]+upper[d] > 0 {
			return nil, errors.Wrapf(ErrShape, "cannot pad empty axis %d", d)
		}
		m := make([]int, lower[d]+n+upper[d])
		for j := range m {
			m[j] = ReflectIndex(j-lower[d], n)
		}
		maps[d] = m
	}
	return gather(a, maps), nil
}

// Flip reverses the order of elements along axis.
func (a *Array[T]) Flip(axis int) *Array[T] {
	axis = a.axis(axis)
	maps := identityMaps(a.shape)
	n := a.shape[axis]
	for i := range maps[axis] {
		maps[axis][i] = n - 1 - i
	}
	return gather(a, maps)
}

// CropCenter cuts a window of the given size centred in the array. Each
// axis loses (shape-size)/2 elements at the start.
func (a *Array[T]) CropCenter(size []int) (*Array[T], error) {
	if len(size) != len(a.shape) {
		return nil, errors.Wrapf(ErrShape, "crop size %v must have rank %d", size, len(a.shape))
	}
	pos := make([]int, len(size))
	for d := range size {
		if size[d] > a.shape[d] {
			return nil, errors.Wrapf(ErrShape, "crop size %v larger than shape %v", size, a.shape)
		}
		pos[d] = (a.shape[d] - size[d]) / 2
	}
	return a.Window(pos, size)
}

// SwapLastAxes transposes the last two axes.
func (a *Array[T]) SwapLastAxes() *Array[T] {
	r := len(a.shape)
	if r < 2 {
		return a.Clone()
	}
	shape := a.Shape()
	shape[r-2], shape[r-1] = shape[r-1], shape[r-2]
	out := New[T](shape...)
	rows, cols := a.shape[r-2], a.shape[r-1]
	plane := rows * cols
	for p := 0; p < a.Planes(); p++ {
		src := a.data[p*plane : (p+1)*plane]
		dst := out.data[p*plane : (p+1)*plane]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[j*rows+i] = src[i*cols+j]
			}
		}
	}
	return out
}

// Rot90 rotates every plane spanned by the last two axes by k quarter turns
// counter-clockwise (from the second-to-last axis towards the last one).
// Negative k rotates clockwise. Odd k swaps the extents of the two axes.
func (a *Array[T]) Rot90(k int) *Array[T] {
	k %= 4
	if k < 0 {
		k += 4
	}
	switch k {
	case 1:
		return a.Flip(-1).SwapLastAxes()
	case 2:
		return a.Flip(-2).Flip(-1)
	case 3:
		return a.SwapLastAxes().Flip(-1)
	default:
		return a.Clone()
	}
}

// Paste overwrites the window of a starting at pos with src. Unlike the other
// operations it modifies a in place. The window must lie inside a.
func (a *Array[T]) Paste(src *Array[T], pos []int) error {
	if err := a.checkPosSize(pos, src.shape); err != nil {
		return err
	}
	for d := range pos {
		if pos[d] < 0 || pos[d]+src.shape[d] > a.shape[d] {
			return errors.Wrapf(ErrShape, "paste pos %v size %v outside shape %v", pos, src.shape, a.shape)
		}
	}
	if len(src.data) == 0 {
		return nil
	}
	idx := make([]int, len(pos))
	for i, v := range src.data {
		off := 0
		for d := range idx {
			off += (pos[d] + idx[d]) * a.strides[d]
		}
		a.data[off] = v
		for d := len(idx) - 1; d >= 0 && i+1 < len(src.data); d-- {
			idx[d]++
			if idx[d] < src.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}
