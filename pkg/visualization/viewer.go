// Package visualization writes volumes, training tiles and probability maps
// as sequences of grayscale slice images for inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"tilefeed/pkg/dataset"
	"tilefeed/pkg/ndarray"
)

// Viewer renders slices of a (Z, X, Y) volume. Axis x runs along the image
// width and y along its height.
type Viewer struct {
	volume *ndarray.Array[float64]

	// Values are mapped to gray as (v - low) / (high - low), clamped.
	low, high float64
}

// NewViewer creates a viewer that maps [0, 1] to black through white.
func NewViewer(volume *ndarray.Array[float64]) (*Viewer, error) {
	if volume.Rank() != 3 {
		return nil, errors.Errorf("viewer needs a (Z, X, Y) volume, got shape %v", volume.Shape())
	}
	return &Viewer{volume: volume, low: 0, high: 1}, nil
}

// NewStretchedViewer creates a viewer that maps the volume's minimum to
// black and its maximum to white.
func NewStretchedViewer(volume *ndarray.Array[float64]) (*Viewer, error) {
	v, err := NewViewer(volume)
	if err != nil {
		return nil, err
	}
	if volume.Size() > 0 {
		v.low, v.high = floats.Min(volume.Data()), floats.Max(volume.Data())
	}
	return v, nil
}

func (v *Viewer) gray(value float64) color.Gray16 {
	span := v.high - v.low
	if span <= 0 {
		span = 1
	}
	scaled := (value - v.low) / span
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled*65535)))}
}

// ExtractSlice extracts a 2D slice through the volume perpendicular to axis
// ("z", "x" or "y") at position.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	depth, width, height := v.volume.Dim(0), v.volume.Dim(1), v.volume.Dim(2)

	var img *image.Gray16
	switch axis {
	case "z", "Z":
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img = image.NewGray16(image.Rect(0, 0, width, height))
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				img.SetGray16(x, y, v.gray(v.volume.At(position, x, y)))
			}
		}

	case "x", "X":
		if position >= width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		img = image.NewGray16(image.Rect(0, 0, depth, height))
		for z := 0; z < depth; z++ {
			for y := 0; y < height; y++ {
				img.SetGray16(z, y, v.gray(v.volume.At(z, position, y)))
			}
		}

	case "y", "Y":
		if position >= height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		img = image.NewGray16(image.Rect(0, 0, width, depth))
		for z := 0; z < depth; z++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, z, v.gray(v.volume.At(z, x, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

// SaveSliceSequence writes every slice along axis to outputDir as
// <prefix>_<axis>_<nnn>.png.
func (v *Viewer) SaveSliceSequence(axis, outputDir, prefix string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "z", "Z":
		maxPos = v.volume.Dim(0)
	case "x", "X":
		maxPos = v.volume.Dim(1)
	case "y", "Y":
		maxPos = v.volume.Dim(2)
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.png", prefix, axis, pos))
		if err := imaging.Save(img, filename); err != nil {
			return errors.Wrapf(err, "saving %s", filename)
		}
	}
	return nil
}

// SaveTrainingTile writes the z-slices of every pixel channel of tile, with
// contrast stretched, and of every label weight plane, with weights in
// [0, 1] mapped to black through white, to dir.
func SaveTrainingTile(tile *dataset.TrainingTile, dir, prefix string) error {
	for i, channel := range tile.Channels {
		v, err := NewStretchedViewer(tile.Pixels.Index(i))
		if err != nil {
			return err
		}
		if err := v.SaveSliceSequence("z", dir, fmt.Sprintf("%s_channel%d", prefix, channel)); err != nil {
			return err
		}
	}
	for i, label := range tile.Labels {
		v, err := NewViewer(tile.Weights.Index(i))
		if err != nil {
			return err
		}
		if err := v.SaveSliceSequence("z", dir, fmt.Sprintf("%s_label%d", prefix, label)); err != nil {
			return err
		}
	}
	klog.V(2).Infof("saved tile of image %d at %v to %s", tile.Image, tile.Pos, dir)
	return nil
}

// SaveProbabilityMap writes the z-slices of a (Z, X, Y) probability map to
// dir as <name>_z_<nnn>.png.
func SaveProbabilityMap(prob *ndarray.Array[float64], dir, name string) error {
	v, err := NewViewer(prob)
	if err != nil {
		return err
	}
	return v.SaveSliceSequence("z", dir, name)
}
