package dataset

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"

	"tilefeed/pkg/augment"
	"tilefeed/pkg/ndarray"
)

// Coordinate locates one labelled pixel.
type Coordinate struct {
	Image, Channel, Z, X, Y int
}

// Spatial returns the (z, x, y) part of c.
func (c Coordinate) Spatial() []int { return []int{c.Z, c.X, c.Y} }

func (c Coordinate) String() string {
	return fmt.Sprintf("image %d (c=%d z=%d x=%d y=%d)", c.Image, c.Channel, c.Z, c.X, c.Y)
}

// TileRequest describes the random training tiles to draw.
type TileRequest struct {
	// Size is the (z, x, y) size of the label region.
	Size []int

	// Channels and Labels select the pixel channels and label values of the
	// tile. Nil means all of them.
	Channels []int
	Labels   []int

	// PixelPadding enlarges the pixel tile on every side, (z, x, y).
	PixelPadding []int

	// Equalized picks every label value with equal probability instead of
	// in proportion to its pixel count.
	Equalized bool

	// Augmentation is applied to every tile unless RandomAugmentation is
	// set, in which case a new augmentation is drawn for each tile.
	Augmentation       augment.Augmentation
	RandomAugmentation *augment.Ranges

	// LabelRegion, if non-zero, is the label value the tile must contain.
	LabelRegion int
}

// RandomTrainingTile returns a random training tile containing labelled
// pixels, located with the Dataset's strategy.
func (d *Dataset) RandomTrainingTile(req TileRequest) (*TrainingTile, error) {
	if len(req.Size) != 3 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "tile size %v must be (z, x, y)", req.Size)
	}
	for _, s := range req.Size {
		if s <= 0 {
			return nil, errors.Wrapf(ErrDimensionMismatch, "tile size %v must be positive", req.Size)
		}
	}
	if d.ImageCount() == 0 {
		return nil, errors.Wrap(ErrInvalidImage, "dataset has no images")
	}
	if req.LabelRegion != 0 {
		if err := d.stats.Check(req.LabelRegion); err != nil {
			return nil, err
		}
	}
	channels := req.Channels
	if channels == nil {
		var err error
		if channels, err = d.ChannelList(); err != nil {
			return nil, err
		}
	}
	labels := req.Labels
	if labels == nil {
		labels = d.stats.Values()
	}
	aug := req.Augmentation
	if req.RandomAugmentation != nil {
		aug = req.RandomAugmentation.Draw(d.rng)
	}

	if d.strategy == Indexed {
		return d.tileByCoordinate(req, channels, labels, aug)
	}
	return d.tileByPolling(req, channels, labels, aug)
}

func (d *Dataset) tileByCoordinate(req TileRequest, channels, labels []int, aug augment.Augmentation) (*TrainingTile, error) {
	var (
		coord Coordinate
		err   error
	)
	if req.LabelRegion != 0 {
		coord, err = d.RandomLabelCoordinateForLabel(req.LabelRegion)
	} else {
		_, coord, err = d.RandomLabelCoordinate(req.Equalized)
	}
	if err != nil {
		return nil, err
	}

	// Any window containing the coordinate, even one reaching past the
	// image edges.
	pos := coord.Spatial()
	for i, s := range req.Size {
		pos[i] += d.rng.Intn(s) - s + 1
	}
	klog.V(2).Infof("tile around %s at %v", coord, pos)
	return d.TrainingTile(coord.Image, pos, req.Size, channels, labels, req.PixelPadding, aug)
}

func (d *Dataset) tileByPolling(req TileRequest, channels, labels []int, aug augment.Augmentation) (*TrainingTile, error) {
	target := req.LabelRegion
	if target == 0 && req.Equalized {
		var err error
		if target, err = d.RandomLabelValue(true); err != nil {
			return nil, err
		}
	}
	wanted := labels
	if target != 0 {
		wanted = []int{target}
	}

	var imageWeights []float64
	if target != 0 {
		imageWeights = int64sToFloats(d.stats.Counts(target))
	} else {
		imageWeights = int64sToFloats(d.stats.ImageCounts())
	}

	var last *TrainingTile
	for trial := 0; trial < d.maxPollings; trial++ {
		imageNr := d.pickImage(imageWeights)
		dims, err := d.ImageDimensions(imageNr)
		if err != nil {
			return nil, err
		}
		pos := make([]int, 3)
		for i, s := range req.Size {
			if free := dims[i+1] - s; free > 0 {
				pos[i] = d.rng.Intn(free + 1)
			}
		}
		var masks map[int]*ndarray.Array[bool]
		last, masks, err = d.trainingTile(imageNr, pos, req.Size, channels, labels, req.PixelPadding, aug)
		if err != nil {
			return nil, err
		}
		found, err := d.containsAny(imageNr, pos, req.Size, wanted, aug, masks)
		if err != nil {
			return nil, err
		}
		if found {
			klog.V(2).Infof("polling found labels %v in image %d at %v after %d trials", wanted, imageNr, pos, trial+1)
			return last, nil
		}
	}
	klog.Warningf("no tile with labels %v found after %d trials, returning the last candidate", wanted, d.maxPollings)
	return last, nil
}

// pickImage draws an image index in proportion to weights, or uniformly when
// all weights are zero.
func (d *Dataset) pickImage(weights []float64) int {
	if floats.Sum(weights) <= 0 {
		return d.rng.Intn(len(weights))
	}
	return int(distuv.NewCategorical(weights, d.rng).Rand())
}

// containsAny reports whether any of labels occurs in the augmented tile.
// Masks already built for the tile are reused.
func (d *Dataset) containsAny(imageNr int, pos, size, labels []int, aug augment.Augmentation, masks map[int]*ndarray.Array[bool]) (bool, error) {
	for _, label := range labels {
		mask, ok := masks[label]
		if !ok {
			var err error
			if mask, err = d.labelMask(imageNr, pos, size, label, aug); err != nil {
				return false, err
			}
		}
		if mask.Any(func(on bool) bool { return on }) {
			return true, nil
		}
	}
	return false, nil
}

// RandomLabelValue picks a label value, uniformly when equalized and in
// proportion to the label's pixel count otherwise.
func (d *Dataset) RandomLabelValue(equalized bool) (int, error) {
	return d.stats.RandomValue(d.rng, equalized)
}

// LabelCoordinate returns the coordinate of the index-th pixel of label,
// counting through the images in order.
func (d *Dataset) LabelCoordinate(label int, index int64) (Coordinate, error) {
	if d.indexed == nil {
		return Coordinate{}, errors.Wrap(ErrStrategy, "label coordinates need an indexed source")
	}
	imageNr, within, err := d.stats.Coordinate(label, index)
	if err != nil {
		return Coordinate{}, err
	}
	czxy, err := d.indexed.LabelIndexToCoordinate(imageNr, label, within)
	if err != nil {
		return Coordinate{}, errors.Wrapf(err, "label %d index %d in image %d", label, within, imageNr)
	}
	if len(czxy) != 4 {
		return Coordinate{}, errors.Wrapf(ErrDimensionMismatch, "label coordinate %v, want (c, z, x, y)", czxy)
	}
	return Coordinate{Image: imageNr, Channel: czxy[0], Z: czxy[1], X: czxy[2], Y: czxy[3]}, nil
}

// RandomLabelCoordinateForLabel returns the coordinate of a random pixel of
// label. Every pixel of the label is equally likely.
func (d *Dataset) RandomLabelCoordinateForLabel(label int) (Coordinate, error) {
	if err := d.stats.Check(label); err != nil {
		return Coordinate{}, err
	}
	total := d.stats.Total(label)
	if total < 1 {
		return Coordinate{}, errors.Wrapf(ErrEmptyLabel, "no pixels of label %d", label)
	}
	return d.LabelCoordinate(label, d.rng.Int63n(total))
}

// RandomLabelCoordinate picks a label value as RandomLabelValue does and
// returns it with the coordinate of a random pixel of that label.
func (d *Dataset) RandomLabelCoordinate(equalized bool) (int, Coordinate, error) {
	label, err := d.RandomLabelValue(equalized)
	if err != nil {
		return 0, Coordinate{}, err
	}
	coord, err := d.RandomLabelCoordinateForLabel(label)
	return label, coord, err
}

func int64sToFloats(v []int64) []float64 {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	return f
}
