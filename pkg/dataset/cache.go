package dataset

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tilefeed/pkg/ndarray"
)

// Default cache capacities, in entries.
const (
	DefaultDimensionCacheSize = 1000
	DefaultTileCacheSize      = 5000
	DefaultLabelCacheSize     = 1500
)

type tileKey struct {
	image     int
	pos, size [4]int
}

type labelKey struct {
	image, label int
	pos, size    [3]int
}

// cachedSource memoizes source reads. Cached arrays are shared between
// callers and must not be modified.
type cachedSource struct {
	src    Source
	dims   *lru.Cache[int, []int]
	tiles  *lru.Cache[tileKey, *ndarray.Array[float64]]
	labels *lru.Cache[labelKey, *ndarray.Array[bool]]
}

func newCachedSource(src Source, params Params) (*cachedSource, error) {
	c := &cachedSource{src: src}
	var err error
	if c.dims, err = lru.New[int, []int](orDefault(params.DimensionCacheSize, DefaultDimensionCacheSize)); err != nil {
		return nil, errors.Wrap(err, "dimension cache")
	}
	if c.tiles, err = lru.New[tileKey, *ndarray.Array[float64]](orDefault(params.TileCacheSize, DefaultTileCacheSize)); err != nil {
		return nil, errors.Wrap(err, "tile cache")
	}
	if c.labels, err = lru.New[labelKey, *ndarray.Array[bool]](orDefault(params.LabelCacheSize, DefaultLabelCacheSize)); err != nil {
		return nil, errors.Wrap(err, "label cache")
	}
	return c, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (c *cachedSource) dimensions(imageNr int) ([]int, error) {
	if dims, ok := c.dims.Get(imageNr); ok {
		return dims, nil
	}
	dims, err := c.src.ImageDimensions(imageNr)
	if err != nil {
		return nil, errors.Wrapf(err, "dimensions of image %d", imageNr)
	}
	if len(dims) != 4 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "image %d has dimensions %v, want (C, Z, X, Y)", imageNr, dims)
	}
	c.dims.Add(imageNr, dims)
	return dims, nil
}

func (c *cachedSource) tile(imageNr int, pos, size []int) (*ndarray.Array[float64], error) {
	key := tileKey{image: imageNr}
	copy(key.pos[:], pos)
	copy(key.size[:], size)
	if t, ok := c.tiles.Get(key); ok {
		return t, nil
	}
	t, err := c.src.Tile(imageNr, pos, size)
	if err != nil {
		return nil, err
	}
	klog.V(4).Infof("tile cache miss: image %d pos %v size %v", imageNr, pos, size)
	c.tiles.Add(key, t)
	return t, nil
}

func (c *cachedSource) labelTile(imageNr int, pos, size []int, label int) (*ndarray.Array[bool], error) {
	key := labelKey{image: imageNr, label: label}
	copy(key.pos[:], pos)
	copy(key.size[:], size)
	if t, ok := c.labels.Get(key); ok {
		return t, nil
	}
	t, err := c.src.LabelTile(imageNr, pos, size, label)
	if err != nil {
		return nil, err
	}
	c.labels.Add(key, t)
	return t, nil
}
