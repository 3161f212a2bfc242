// Package augment builds tiles of an exact requested size from images of any
// size, extending edges by reflection and applying geometric augmentation:
// lossless flips and quarter turns, and an affine rotation/shear warp.
package augment

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Augmentation describes the geometric transform applied to a tile. The zero
// value is the identity.
type Augmentation struct {
	// RotationAngle and ShearAngle are in degrees, about the tile centre.
	RotationAngle float64 `yaml:"rotationAngle"`
	ShearAngle    float64 `yaml:"shearAngle"`

	// Rot90 is the number of counter-clockwise quarter turns in the x/y plane.
	Rot90 int `yaml:"rot90"`

	// FlipUD mirrors the x axis, FlipLR mirrors the y axis.
	FlipUD bool `yaml:"flipud"`
	FlipLR bool `yaml:"fliplr"`
}

// IsIdentity reports whether a leaves tiles unchanged.
func (a Augmentation) IsIdentity() bool {
	return a.RotationAngle == 0 && a.ShearAngle == 0 && a.quarterTurns() == 0 && !a.FlipUD && !a.FlipLR
}

// NeedsWarp reports whether the affine warp is required.
func (a Augmentation) NeedsWarp() bool {
	return a.RotationAngle != 0 || a.ShearAngle != 0
}

// AppliedTo returns the part of a that Tile actually applies to a tile of
// the given size: the identity when the x/y plane is a single pixel.
func (a Augmentation) AppliedTo(size []int) Augmentation {
	n := len(size)
	if n < 2 || (size[n-2] <= 1 && size[n-1] <= 1) {
		return Augmentation{}
	}
	return a
}

func (a Augmentation) quarterTurns() int {
	k := a.Rot90 % 4
	if k < 0 {
		k += 4
	}
	return k
}

func (a Augmentation) String() string {
	return fmt.Sprintf("rotation=%.1f° shear=%.1f° rot90=%d flipud=%t fliplr=%t",
		a.RotationAngle, a.ShearAngle, a.quarterTurns(), a.FlipUD, a.FlipLR)
}

// Ranges bounds randomly drawn augmentations.
type Ranges struct {
	// MaxRotation and MaxShear are the largest absolute angles, in degrees.
	MaxRotation float64 `yaml:"maxRotation"`
	MaxShear    float64 `yaml:"maxShear"`

	// Flip enables random up-down and left-right flips.
	Flip bool `yaml:"flip"`

	// Rot90 enables random quarter turns.
	Rot90 bool `yaml:"rot90"`
}

// Draw picks an augmentation uniformly within r using rng.
func (r Ranges) Draw(rng *rand.Rand) Augmentation {
	var a Augmentation
	if r.MaxRotation > 0 {
		a.RotationAngle = distuv.Uniform{Min: -r.MaxRotation, Max: r.MaxRotation, Src: rng}.Rand()
	}
	if r.MaxShear > 0 {
		a.ShearAngle = distuv.Uniform{Min: -r.MaxShear, Max: r.MaxShear, Src: rng}.Rand()
	}
	if r.Flip {
		a.FlipUD = rng.Intn(2) == 1
		a.FlipLR = rng.Intn(2) == 1
	}
	if r.Rot90 {
		a.Rot90 = rng.Intn(4)
	}
	return a
}
