package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilefeed/pkg/ndarray"
)

// labelFixture returns a (1, 3, 6, 4) label volume holding label 2 at 11
// pixels and label 3 at 3 pixels.
func labelFixture() *ndarray.Array[int] {
	labels := ndarray.New[int](1, 3, 6, 4)
	for _, p := range [][]int{
		{0, 0, 2, 1}, {0, 0, 2, 2}, {0, 0, 2, 3},
		{0, 0, 3, 1}, {0, 0, 3, 2}, {0, 0, 3, 3},
		{0, 1, 5, 0}, {0, 1, 5, 1}, {0, 2, 0, 0},
		{0, 2, 1, 0}, {0, 2, 1, 2},
	} {
		labels.Set(2, p...)
	}
	for _, p := range [][]int{{0, 0, 0, 1}, {0, 0, 4, 1}, {0, 0, 5, 1}} {
		labels.Set(3, p...)
	}
	return labels
}

func pixelFixture(shape ...int) *ndarray.Array[float64] {
	pixels := ndarray.New[float64](shape...)
	for i := range pixels.Data() {
		pixels.Data()[i] = float64(i)
	}
	return pixels
}

func fixture(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	require.NoError(t, m.Add("6width4height3slices", pixelFixture(3, 3, 6, 4), labelFixture()))
	require.NoError(t, m.Add("unlabelled", pixelFixture(1, 2, 5, 5), nil))
	return m
}

func TestMemoryDimensionsAndTile(t *testing.T) {
	m := fixture(t)
	assert.Equal(t, 2, m.ImageCount())
	dims, err := m.ImageDimensions(0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 6, 4}, dims)

	tile, err := m.Tile(0, []int{1, 2, 3, 1}, []int{2, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 2, 3}, tile.Shape())
	assert.Equal(t, float64(1*72+2*24+3*4+1), tile.At(0, 0, 0, 0))

	_, err = m.Tile(0, []int{0, 0, 5, 0}, []int{1, 1, 2, 1})
	require.ErrorIs(t, err, ErrShape)
	_, err = m.ImageDimensions(2)
	require.ErrorIs(t, err, ErrNoImage)
}

func TestMemoryLabelTile(t *testing.T) {
	m := fixture(t)

	z0, err := m.LabelTile(0, []int{0, 0, 0}, []int{1, 6, 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{
		false, false, false, false,
		false, false, false, false,
		false, true, true, true,
		false, true, true, true,
		false, false, false, false,
		false, false, false, false,
	}, z0.Data())

	z1, err := m.LabelTile(0, []int{1, 0, 0}, []int{1, 6, 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{
		false, false, false, false,
		false, false, false, false,
		false, false, false, false,
		false, false, false, false,
		false, false, false, false,
		true, true, false, false,
	}, z1.Data())

	none, err := m.LabelTile(1, []int{0, 1, 1}, []int{2, 3, 3}, 2)
	require.NoError(t, err)
	assert.False(t, none.Any(func(b bool) bool { return b }))

	_, err = m.LabelTile(0, []int{0, 0}, []int{1, 6}, 2)
	require.ErrorIs(t, err, ErrShape)
}

func TestMemoryLabelTileAnyChannel(t *testing.T) {
	labels := ndarray.New[int](2, 1, 2, 2)
	labels.Set(1, 0, 0, 0, 0)
	labels.Set(1, 1, 0, 1, 1)
	labels.Set(2, 1, 0, 0, 1)
	m := NewMemory()
	require.NoError(t, m.Add("two channels", pixelFixture(1, 1, 2, 2), labels))

	mask, err := m.LabelTile(0, []int{0, 0, 0}, []int{1, 2, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, true}, mask.Data())

	counts, err := m.LabelCountForImage(0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{1: 2, 2: 1}, counts)

	coord, err := m.LabelIndexToCoordinate(0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1, 1}, coord)
}

func TestMemoryLabelCounts(t *testing.T) {
	m := fixture(t)
	counts, err := m.LabelCountForImage(0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{2: 11, 3: 3}, counts)

	counts, err = m.LabelCountForImage(1)
	require.NoError(t, err)
	assert.Nil(t, counts)
}

func TestMemoryLabelIndexToCoordinate(t *testing.T) {
	m := fixture(t)
	tests := []struct {
		label int
		index int64
		want  []int
	}{
		{2, 0, []int{0, 0, 2, 1}},
		{2, 9, []int{0, 2, 1, 0}},
		{2, 10, []int{0, 2, 1, 2}},
		{3, 0, []int{0, 0, 0, 1}},
		{3, 2, []int{0, 0, 5, 1}},
	}
	for _, tc := range tests {
		got, err := m.LabelIndexToCoordinate(0, tc.label, tc.index)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "label %d index %d", tc.label, tc.index)
	}

	_, err := m.LabelIndexToCoordinate(0, 2, 11)
	require.ErrorIs(t, err, ErrLabelIndex)
	_, err = m.LabelIndexToCoordinate(0, 4, 0)
	require.ErrorIs(t, err, ErrLabelIndex)
	_, err = m.LabelIndexToCoordinate(1, 2, 0)
	require.ErrorIs(t, err, ErrLabelIndex)
}

func TestMemoryPutTile(t *testing.T) {
	m := fixture(t)
	_, found := m.Probabilities(0, 3)
	assert.False(t, found)

	tile, err := ndarray.FromSlice([]float64{.1, .2, .3, .4, .5, .6}, 1, 2, 3)
	require.NoError(t, err)
	require.NoError(t, m.PutTile(tile, []int{0, 1, 1}, 0, 3))

	prob, found := m.Probabilities(0, 3)
	require.True(t, found)
	require.Equal(t, []int{3, 6, 4}, prob.Shape())
	want := make([]float64, 3*6*4)
	copy(want[5:8], []float64{.1, .2, .3})
	copy(want[9:12], []float64{.4, .5, .6})
	assert.Equal(t, want, prob.Data())
	assert.Equal(t, []int{3}, m.ProbabilityLabels(0))

	// Later tiles replace earlier values.
	require.NoError(t, m.PutTile(ndarray.Full(1.0, 1, 1, 1), []int{0, 1, 1}, 0, 3))
	prob, _ = m.Probabilities(0, 3)
	assert.Equal(t, 1.0, prob.At(0, 1, 1))
	assert.Equal(t, .2, prob.At(0, 1, 2))

	require.ErrorIs(t, m.PutTile(tile, []int{0, 5, 3}, 0, 3), ErrShape)
	require.ErrorIs(t, m.PutTile(tile, []int{0, 0, 0}, 7, 3), ErrNoImage)
}

func TestMemoryAddValidates(t *testing.T) {
	m := NewMemory()
	require.ErrorIs(t, m.Add("flat", ndarray.New[float64](4, 4), nil), ErrShape)
	require.ErrorIs(t, m.Add("mismatch", ndarray.New[float64](1, 3, 6, 4), ndarray.New[int](1, 3, 4, 6)), ErrShape)
	require.Error(t, m.Add("negative", ndarray.New[float64](1, 1, 1, 1), ndarray.Full(-1, 1, 1, 1)))

	// A (Z, X, Y) label volume gets a single label channel.
	require.NoError(t, m.Add("zxy", ndarray.New[float64](2, 3, 6, 4), labelFixture().Index(0)))
	counts, err := m.LabelCountForImage(0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{2: 11, 3: 3}, counts)
}

func TestMemoryFilterAndSplit(t *testing.T) {
	m := fixture(t)
	labelled := m.FilterLabeled()
	require.Equal(t, 1, labelled.ImageCount())
	name, err := labelled.Name(0)
	require.NoError(t, err)
	assert.Equal(t, "6width4height3slices", name)

	big := NewMemory()
	for i := 0; i < 50; i++ {
		require.NoError(t, big.Add(string(rune('a'+i%26)), pixelFixture(1, 1, 2, 2), nil))
	}
	a1, b1 := big.Split(0.3, 42)
	a2, b2 := big.Split(0.3, 42)
	assert.Equal(t, 50, a1.ImageCount()+b1.ImageCount())
	assert.Equal(t, a1.ImageCount(), a2.ImageCount())
	assert.Equal(t, b1.ImageCount(), b2.ImageCount())
	assert.Greater(t, a1.ImageCount(), b1.ImageCount())

	all, none := big.Split(0, 1)
	assert.Equal(t, 50, all.ImageCount())
	assert.Equal(t, 0, none.ImageCount())
}

func TestPollingHidesLabelIndex(t *testing.T) {
	var src any = fixture(t).Polling()
	_, indexed := src.(interface {
		LabelIndexToCoordinate(imageNr, label int, index int64) ([]int, error)
	})
	assert.False(t, indexed)

	p := fixture(t).Polling()
	counts, err := p.LabelCountForImage(0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{2: 11, 3: 3}, counts)
}
