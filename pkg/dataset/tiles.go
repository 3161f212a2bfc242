package dataset

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tilefeed/pkg/augment"
	"tilefeed/pkg/ndarray"
)

// TrainingTile holds the pixels of a tile and the weighted label masks of
// the same region. It is freshly allocated for each call.
type TrainingTile struct {
	Image int
	Pos   []int // (z, x, y) of the label region

	// Pixels has shape (len(Channels), Z, X, Y), where Z, X and Y include
	// the pixel padding on both sides.
	Pixels   *ndarray.Array[float64]
	Channels []int

	// Weights has shape (len(Labels), Z, X, Y). Each plane holds the label's
	// weight where the label occurs and 0 elsewhere.
	Weights *ndarray.Array[float64]
	Labels  []int

	// Augmentation is the transform that took effect, which is the identity
	// for tiles whose x/y plane is a single pixel.
	Augmentation augment.Augmentation
}

// TileSingleChannel returns the (z, x, y) tile of one channel at pos. The
// tile may reach past the image edges.
func (d *Dataset) TileSingleChannel(imageNr int, pos, size []int, channel int, aug augment.Augmentation) (*ndarray.Array[float64], error) {
	dims, err := d.spatialRequest(imageNr, pos, size)
	if err != nil {
		return nil, err
	}
	if channel < 0 || channel >= dims[0] {
		return nil, errors.Wrapf(ErrDimensionMismatch, "channel %d of image %d with %d channels", channel, imageNr, dims[0])
	}
	posC := append([]int{channel}, pos...)
	sizeC := append([]int{1}, size...)
	fetch := func(p, s []int) (*ndarray.Array[float64], error) {
		return d.src.tile(imageNr, p, s)
	}
	tile, err := augment.Tile(dims, posC, sizeC, fetch, aug, d.reflect)
	if err != nil {
		return nil, errors.Wrapf(err, "image %d channel %d", imageNr, channel)
	}
	return tile.Reshape(size...)
}

// MultichannelPixelTile returns the tile at pos for each of channels,
// enlarged by padding on every side, with shape
// (len(channels), size+2*padding). A nil padding means none.
func (d *Dataset) MultichannelPixelTile(imageNr int, pos, size, channels, padding []int, aug augment.Augmentation) (*ndarray.Array[float64], error) {
	dims, err := d.spatialRequest(imageNr, pos, size)
	if err != nil {
		return nil, err
	}
	if padding == nil {
		padding = make([]int, 3)
	}
	if len(padding) != 3 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "pixel padding %v must have 3 elements", padding)
	}
	if err := overlaps(dims[1:], pos, size); err != nil {
		return nil, errors.Wrapf(err, "image %d", imageNr)
	}
	if len(channels) == 0 {
		return nil, errors.Wrap(ErrDimensionMismatch, "no channels requested")
	}

	posPadded := make([]int, 3)
	sizePadded := make([]int, 3)
	for i := range pos {
		if padding[i] < 0 {
			return nil, errors.Wrapf(ErrDimensionMismatch, "negative pixel padding %v", padding)
		}
		posPadded[i] = pos[i] - padding[i]
		sizePadded[i] = size[i] + 2*padding[i]
	}

	planes := make([]*ndarray.Array[float64], len(channels))
	for i, channel := range channels {
		if planes[i], err = d.TileSingleChannel(imageNr, posPadded, sizePadded, channel, aug); err != nil {
			return nil, err
		}
	}
	return ndarray.Stack(planes...)
}

// LabelTile returns the (z, x, y) weight tile of a label at pos: the label's
// weight where it occurs and 0 elsewhere.
func (d *Dataset) LabelTile(imageNr int, pos, size []int, label int, aug augment.Augmentation) (*ndarray.Array[float64], error) {
	if err := d.stats.Check(label); err != nil {
		return nil, err
	}
	mask, err := d.labelMask(imageNr, pos, size, label, aug)
	if err != nil {
		return nil, err
	}
	return d.weighted(mask, label), nil
}

func (d *Dataset) weighted(mask *ndarray.Array[bool], label int) *ndarray.Array[float64] {
	weight := d.stats.Weight(label)
	return ndarray.Map(mask, func(on bool) float64 {
		if on {
			return weight
		}
		return 0
	})
}

// labelMask returns the augmented (z, x, y) mask of label at pos.
func (d *Dataset) labelMask(imageNr int, pos, size []int, label int, aug augment.Augmentation) (*ndarray.Array[bool], error) {
	dims, err := d.spatialRequest(imageNr, pos, size)
	if err != nil {
		return nil, err
	}
	fetch := func(p, s []int) (*ndarray.Array[bool], error) {
		return d.src.labelTile(imageNr, p, s, label)
	}
	mask, err := augment.Tile(dims[1:], pos, size, fetch, aug, d.reflect)
	if err != nil {
		return nil, errors.Wrapf(err, "image %d label %d", imageNr, label)
	}
	return mask, nil
}

// TrainingTile returns the pixels of channels and the weight tiles of labels
// at pos, all transformed by aug.
func (d *Dataset) TrainingTile(imageNr int, pos, size, channels, labels, padding []int, aug augment.Augmentation) (*TrainingTile, error) {
	tile, _, err := d.trainingTile(imageNr, pos, size, channels, labels, padding, aug)
	return tile, err
}

// trainingTile builds a TrainingTile and also returns the label masks it was
// weighted from, keyed by label value.
func (d *Dataset) trainingTile(imageNr int, pos, size, channels, labels, padding []int, aug augment.Augmentation) (*TrainingTile, map[int]*ndarray.Array[bool], error) {
	pixels, err := d.MultichannelPixelTile(imageNr, pos, size, channels, padding, aug)
	if err != nil {
		return nil, nil, err
	}
	masks := make(map[int]*ndarray.Array[bool], len(labels))
	planes := make([]*ndarray.Array[float64], len(labels))
	for i, label := range labels {
		if err := d.stats.Check(label); err != nil {
			return nil, nil, err
		}
		mask, ok := masks[label]
		if !ok {
			if mask, err = d.labelMask(imageNr, pos, size, label, aug); err != nil {
				return nil, nil, err
			}
			masks[label] = mask
		}
		planes[i] = d.weighted(mask, label)
	}
	var weights *ndarray.Array[float64]
	if len(labels) > 0 {
		if weights, err = ndarray.Stack(planes...); err != nil {
			return nil, nil, err
		}
	} else {
		weights = ndarray.New[float64](append([]int{0}, size...)...)
	}
	// The pixel tile is the largest; when even its x/y plane is one pixel,
	// no part of aug took effect.
	applied := aug.AppliedTo(pixels.Shape())
	klog.V(2).Infof("training tile image %d pos %v: pixels %v, weights %v, labels %v, %s",
		imageNr, pos, pixels.Shape(), weights.Shape(), labels, applied)

	return &TrainingTile{
		Image:        imageNr,
		Pos:          append([]int(nil), pos...),
		Pixels:       pixels,
		Channels:     append([]int(nil), channels...),
		Weights:      weights,
		Labels:       append([]int(nil), labels...),
		Augmentation: applied,
	}, masks, nil
}

// PutPredictionTile hands a (z, x, y) probability tile for label at pos to
// the source, which must be a PredictionSink.
func (d *Dataset) PutPredictionTile(pixels *ndarray.Array[float64], pos []int, imageNr, label int) error {
	if err := d.checkImage(imageNr); err != nil {
		return err
	}
	if len(pos) != 3 || pixels.Rank() != 3 {
		return errors.Wrapf(ErrDimensionMismatch, "prediction pos %v and tile %v must be (z, x, y)", pos, pixels.Shape())
	}
	if d.sink == nil {
		return ErrNoSink
	}
	return errors.Wrapf(d.sink.PutTile(pixels, pos, imageNr, label), "prediction for image %d label %d", imageNr, label)
}

// spatialRequest validates a (z, x, y) request and returns the image shape.
func (d *Dataset) spatialRequest(imageNr int, pos, size []int) ([]int, error) {
	if err := d.checkImage(imageNr); err != nil {
		return nil, err
	}
	if len(pos) != 3 || len(size) != 3 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "pos %v and size %v must be (z, x, y)", pos, size)
	}
	for _, s := range size {
		if s <= 0 {
			return nil, errors.Wrapf(ErrDimensionMismatch, "tile size %v must be positive", size)
		}
	}
	return d.src.dimensions(imageNr)
}

// overlaps checks that the tile shares at least one pixel with the image.
func overlaps(shape, pos, size []int) error {
	for i := range shape {
		if pos[i] >= shape[i] || pos[i]+size[i] <= 0 {
			return errors.Wrapf(ErrOutOfBounds, "tile pos %v size %v does not overlap image %v", pos, size, shape)
		}
	}
	return nil
}
