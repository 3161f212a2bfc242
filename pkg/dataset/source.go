package dataset

import (
	"tilefeed/pkg/ndarray"
)

// Source provides pixels and labels of a fixed set of images. Image shapes
// are (C, Z, X, Y).
type Source interface {
	ImageCount() int

	// ImageDimensions returns the (C, Z, X, Y) shape of an image.
	ImageDimensions(imageNr int) ([]int, error)

	// Tile returns the pixels in [pos, pos+size) of an image, with pos and
	// size in (c, z, x, y). It is only called for windows inside the image.
	Tile(imageNr int, pos, size []int) (*ndarray.Array[float64], error)

	// LabelTile returns a (z, x, y) mask that is true where label occurs. It
	// is only called for windows inside the image.
	LabelTile(imageNr int, pos, size []int, label int) (*ndarray.Array[bool], error)

	// LabelCountForImage returns the number of pixels per label value, or
	// nil if the image has no label data.
	LabelCountForImage(imageNr int) (map[int]int64, error)
}

// IndexedSource is a Source that can address every labelled pixel directly.
// Datasets over an IndexedSource sample tiles by coordinate instead of by
// polling.
type IndexedSource interface {
	Source

	// LabelIndexToCoordinate returns the (c, z, x, y) coordinate of the
	// index-th pixel of label in an image, 0 <= index < the image's count.
	LabelIndexToCoordinate(imageNr, label int, index int64) ([]int, error)
}

// PredictionSink receives predicted probability tiles of shape (z, x, y).
type PredictionSink interface {
	PutTile(pixels *ndarray.Array[float64], pos []int, imageNr, label int) error
}
