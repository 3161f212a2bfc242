package ndarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iota2D(rows, cols int) *Array[int] {
	a := New[int](rows, cols)
	for i := range a.data {
		a.data[i] = i
	}
	return a
}

func TestFromSlice(t *testing.T) {
	a, err := FromSlice([]int{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, a.Shape())
	assert.Equal(t, 6, a.At(1, 2))
	assert.Equal(t, 4, a.At(1, 0))

	_, err = FromSlice([]int{1, 2, 3}, 2, 2)
	require.ErrorIs(t, err, ErrShape)
}

func TestWindow(t *testing.T) {
	a := iota2D(4, 5)
	w, err := a.Window([]int{1, 2}, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 9, 12, 13, 14}, w.Data())

	_, err = a.Window([]int{3, 0}, []int{2, 1})
	require.ErrorIs(t, err, ErrShape)
	_, err = a.Window([]int{0}, []int{1})
	require.ErrorIs(t, err, ErrShape)
}

func TestReflectIndex(t *testing.T) {
	// n=3: ... 2 1 0 | 0 1 2 | 2 1 0 | 0 1 2 ...
	want := map[int]int{-7: 0, -6: 0, -4: 2, -3: 2, -2: 1, -1: 0, 0: 0, 2: 2, 3: 2, 4: 1, 5: 0, 6: 0, 8: 2}
	for i, expected := range want {
		assert.Equalf(t, expected, ReflectIndex(i, 3), "index %d", i)
	}
}

func TestPadSymmetric(t *testing.T) {
	// Mirrors the first axis by two rows on each side.
	m, err := FromSlice([]int{
		1, 1, 1,
		2, 2, 2,
		3, 3, 3,
	}, 3, 3)
	require.NoError(t, err)
	padded, err := m.PadSymmetric([]int{2, 0}, []int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 3}, padded.Shape())
	assert.Equal(t, []int{
		2, 2, 2,
		1, 1, 1,
		1, 1, 1,
		2, 2, 2,
		3, 3, 3,
		3, 3, 3,
		2, 2, 2,
	}, padded.Data())

	t.Run("wider than axis", func(t *testing.T) {
		v, err := FromSlice([]int{1, 2}, 2)
		require.NoError(t, err)
		p, err := v.PadSymmetric([]int{5}, []int{3})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 2, 2, 1, 1, 2, 2, 1, 1}, p.Data())
	})

	t.Run("negative", func(t *testing.T) {
		_, err := m.PadSymmetric([]int{-1, 0}, []int{0, 0})
		require.ErrorIs(t, err, ErrShape)
	})
}

func TestFlipAndRot90(t *testing.T) {
	a := iota2D(2, 3) // [[0 1 2] [3 4 5]]
	assert.Equal(t, []int{3, 4, 5, 0, 1, 2}, a.Flip(0).Data())
	assert.Equal(t, []int{2, 1, 0, 5, 4, 3}, a.Flip(-1).Data())

	r1 := a.Rot90(1)
	assert.Equal(t, []int{3, 2}, r1.Shape())
	assert.Equal(t, []int{2, 5, 1, 4, 0, 3}, r1.Data())

	r3 := a.Rot90(3)
	assert.Equal(t, []int{3, 2}, r3.Shape())
	assert.Equal(t, []int{3, 0, 4, 1, 5, 2}, r3.Data())
	assert.True(t, Equal(r3, a.Rot90(-1)))

	assert.Equal(t, []int{5, 4, 3, 2, 1, 0}, a.Rot90(2).Data())
	assert.True(t, Equal(a, a.Rot90(4)))
	assert.True(t, Equal(a, r1.Rot90(3)))
}

func TestRot90LeadingAxes(t *testing.T) {
	a := New[int](2, 2, 3)
	for i := range a.data {
		a.data[i] = i
	}
	r := a.Rot90(1)
	require.Equal(t, []int{2, 3, 2}, r.Shape())
	for p := 0; p < 2; p++ {
		assert.True(t, Equal(a.Index(p).Rot90(1), r.Index(p)))
	}
}

func TestCropCenter(t *testing.T) {
	a := iota2D(6, 6)
	c, err := a.CropCenter([]int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{14, 15, 20, 21}, c.Data())

	_, err = a.CropCenter([]int{7, 2})
	require.ErrorIs(t, err, ErrShape)
}

func TestStackAndMap(t *testing.T) {
	a := Full(true, 2, 2)
	b := Full(false, 2, 2)
	s, err := Stack(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, s.Shape())

	w := Map(s, func(v bool) float64 {
		if v {
			return 0.5
		}
		return 0
	})
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0}, w.Data())
	assert.True(t, w.Any(func(v float64) bool { return v > 0 }))

	_, err = Stack(a, Full(true, 3))
	require.ErrorIs(t, err, ErrShape)
}

func TestOpsDoNotMutate(t *testing.T) {
	a := iota2D(3, 3)
	before := a.Clone()
	_ = a.Flip(0)
	_ = a.Rot90(1)
	_, _ = a.PadSymmetric([]int{1, 1}, []int{1, 1})
	_, _ = a.Window([]int{0, 0}, []int{2, 2})
	assert.True(t, Equal(before, a))
}

func TestPasteAndUnravel(t *testing.T) {
	a := New[int](3, 4)
	src := iota2D(2, 2)
	require.NoError(t, a.Paste(src, []int{1, 2}))
	assert.Equal(t, []int{
		0, 0, 0, 0,
		0, 0, 0, 1,
		0, 0, 2, 3,
	}, a.Data())

	require.ErrorIs(t, a.Paste(src, []int{2, 2}), ErrShape)
	require.ErrorIs(t, a.Paste(src, []int{0}), ErrShape)

	b := New[int](2, 3, 4)
	assert.Equal(t, []int{1, 2, 3}, b.Unravel(b.Offset(1, 2, 3)))
	assert.Equal(t, []int{0, 1, 0}, b.Unravel(4))
}
