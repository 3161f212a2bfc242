// Package ndarray provides a small dense N-dimensional array used to move
// image tiles and label masks between the geometry, augmentation and sampling
// packages.
//
// Data is stored flat in row-major order: the last axis varies fastest. All
// operations that change geometry return a new array and never modify their
// receiver, so arrays handed out by caches can be shared safely.
package ndarray

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShape is returned when shapes, positions or sizes are inconsistent.
var ErrShape = errors.New("ndarray: invalid shape")

// Array is a dense row-major N-dimensional array of T.
type Array[T any] struct {
	shape   []int
	strides []int
	data    []T
}

// New creates a zero-valued array with the given shape.
// It panics if any extent is negative, as make does.
func New[T any](shape ...int) *Array[T] {
	a := &Array[T]{shape: append([]int(nil), shape...)}
	a.strides = stridesFor(a.shape)
	a.data = make([]T, numElements(a.shape))
	return a
}

// FromSlice wraps data (not copied) in an array of the given shape.
func FromSlice[T any](data []T, shape ...int) (*Array[T], error) {
	if n := numElements(shape); n != len(data) {
		return nil, errors.Wrapf(ErrShape, "shape %v holds %d elements, got %d", shape, n, len(data))
	}
	a := &Array[T]{shape: append([]int(nil), shape...), data: data}
	a.strides = stridesFor(a.shape)
	return a, nil
}

// Full returns an array of the given shape with every element set to value.
func Full[T any](value T, shape ...int) *Array[T] {
	a := New[T](shape...)
	for i := range a.data {
		a.data[i] = value
	}
	return a
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= shape[d]
	}
	return strides
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Shape returns a copy of the array's shape.
func (a *Array[T]) Shape() []int { return append([]int(nil), a.shape...) }

// Rank is the number of axes.
func (a *Array[T]) Rank() int { return len(a.shape) }

// Size is the total number of elements.
func (a *Array[T]) Size() int { return len(a.data) }

// Data returns the underlying row-major storage. Callers must not modify it
// on arrays they do not own.
func (a *Array[T]) Data() []T { return a.data }

// Dim returns the extent of axis. Negative axes count from the end.
func (a *Array[T]) Dim(axis int) int { return a.shape[a.axis(axis)] }

func (a *Array[T]) axis(axis int) int {
	if axis < 0 {
		axis += len(a.shape)
	}
	if axis < 0 || axis >= len(a.shape) {
		panic(fmt.Sprintf("ndarray: axis %d out of range for rank %d", axis, len(a.shape)))
	}
	return axis
}

// Offset converts a multi-index into a flat offset into Data.
func (a *Array[T]) Offset(idx ...int) int {
	off := 0
	for d, i := range idx {
		off += i * a.strides[d]
	}
	return off
}

// Unravel converts a flat row-major offset into a multi-index.
func (a *Array[T]) Unravel(offset int) []int {
	idx := make([]int, len(a.shape))
	for d, stride := range a.strides {
		idx[d] = offset / stride
		offset %= stride
	}
	return idx
}

// At returns the element at the given multi-index.
func (a *Array[T]) At(idx ...int) T { return a.data[a.Offset(idx...)] }

// Set stores v at the given multi-index.
func (a *Array[T]) Set(v T, idx ...int) { a.data[a.Offset(idx...)] = v }

// Clone returns a deep copy.
func (a *Array[T]) Clone() *Array[T] {
	c := &Array[T]{
		shape:   append([]int(nil), a.shape...),
		strides: append([]int(nil), a.strides...),
		data:    append([]T(nil), a.data...),
	}
	return c
}

// Reshape returns a copy of the array with a new shape holding the same
// number of elements.
func (a *Array[T]) Reshape(shape ...int) (*Array[T], error) {
	if numElements(shape) != len(a.data) {
		return nil, errors.Wrapf(ErrShape, "cannot reshape %v into %v", a.shape, shape)
	}
	return FromSlice(append([]T(nil), a.data...), shape...)
}

// Planes returns the number of 2-D planes spanned by the last two axes, that
// is, the product of all leading extents.
func (a *Array[T]) Planes() int {
	if len(a.shape) < 2 {
		return 0
	}
	return numElements(a.shape[:len(a.shape)-2])
}

// Map applies f to every element of a and returns the results in an array of
// the same shape.
func Map[T, U any](a *Array[T], f func(T) U) *Array[U] {
	out := New[U](a.shape...)
	for i, v := range a.data {
		out.data[i] = f(v)
	}
	return out
}

// Stack joins arrays of identical shape along a new leading axis.
func Stack[T any](arrays ...*Array[T]) (*Array[T], error) {
	if len(arrays) == 0 {
		return nil, errors.Wrap(ErrShape, "nothing to stack")
	}
	inner := arrays[0].shape
	shape := append([]int{len(arrays)}, inner...)
	out := New[T](shape...)
	n := numElements(inner)
	for i, arr := range arrays {
		if !sameShape(arr.shape, inner) {
			return nil, errors.Wrapf(ErrShape, "stack element %d has shape %v, want %v", i, arr.shape, inner)
		}
		copy(out.data[i*n:(i+1)*n], arr.data)
	}
	return out, nil
}

// Index returns the sub-array at position i of the leading axis.
func (a *Array[T]) Index(i int) *Array[T] {
	inner := a.shape[1:]
	n := numElements(inner)
	out := New[T](inner...)
	copy(out.data, a.data[i*n:(i+1)*n])
	return out
}

// Equal reports whether a and b have identical shapes and elements.
func Equal[T comparable](a, b *Array[T]) bool {
	if !sameShape(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

// Any reports whether pred holds for at least one element.
func (a *Array[T]) Any(pred func(T) bool) bool {
	for _, v := range a.data {
		if pred(v) {
			return true
		}
	}
	return false
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a *Array[T]) String() string {
	return fmt.Sprintf("Array%v", a.shape)
}
