// Package geometry turns a tile request that may reach past the edges of an
// image into an in-bounds fetch plus the padding needed to rebuild the
// request by symmetric reflection.
//
// Every axis is resolved on its own. For an axis of extent n and a request
// [pos, pos+size) the fetched ("transient") region must satisfy two rules:
//
//   - It must cover every image index the request reaches, either directly or
//     through reflection at an image edge.
//   - Padding is applied only at edges of the transient region that coincide
//     with the image edges, so reflection about the transient region gives the
//     same values as reflection about the image.
//
// When a side needs more reflected elements than the transient region holds,
// the region is widened to the whole axis; symmetric padding of the full axis
// keeps reflecting and yields the periodic mirror extension of the image.
package geometry

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when shape, position and size vectors
// have different lengths or the expected number of elements is not met.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// ErrInvalidSize is returned for non-positive image or tile extents.
var ErrInvalidSize = errors.New("invalid size")

// Region is the resolved fetch plan for one tile request.
type Region struct {
	// PosOut and SizeOut delimit the transient fetch region. It always lies
	// inside the image.
	PosOut, SizeOut []int

	// PadLower and PadUpper are the reflection widths applied before and
	// after the transient region on every axis.
	PadLower, PadUpper []int

	// PosTile is where the requested window starts inside the padded
	// transient tile.
	PosTile []int

	// Size is the requested tile size.
	Size []int
}

// HasPadding reports whether any axis needs reflection.
func (r Region) HasPadding() bool {
	for d := range r.PadLower {
		if r.PadLower[d] > 0 || r.PadUpper[d] > 0 {
			return true
		}
	}
	return false
}

// PaddedSize is the extent of the transient tile after padding.
func (r Region) PaddedSize() []int {
	out := make([]int, len(r.SizeOut))
	for d := range out {
		out[d] = r.PadLower[d] + r.SizeOut[d] + r.PadUpper[d]
	}
	return out
}

func (r Region) String() string {
	return fmt.Sprintf("fetch pos=%v size=%v pad=%v/%v tile@%v", r.PosOut, r.SizeOut, r.PadLower, r.PadUpper, r.PosTile)
}

// Resolve computes the fetch plan for a tile of tileShape at pos within an
// image of imageShape.
func Resolve(imageShape, pos, tileShape []int) (Region, error) {
	if len(pos) != len(imageShape) || len(tileShape) != len(imageShape) {
		return Region{}, errors.Wrapf(ErrDimensionMismatch,
			"image shape %v, pos %v and tile shape %v differ in length", imageShape, pos, tileShape)
	}
	n := len(imageShape)
	r := Region{
		PosOut:   make([]int, n),
		SizeOut:  make([]int, n),
		PadLower: make([]int, n),
		PadUpper: make([]int, n),
		PosTile:  make([]int, n),
		Size:     append([]int(nil), tileShape...),
	}
	for d := 0; d < n; d++ {
		if imageShape[d] <= 0 || tileShape[d] <= 0 {
			return Region{}, errors.Wrapf(ErrInvalidSize, "image shape %v, tile shape %v", imageShape, tileShape)
		}
		ax := resolveAxis(imageShape[d], pos[d], tileShape[d])
		r.PosOut[d], r.SizeOut[d] = ax.lo, ax.hi-ax.lo
		r.PadLower[d], r.PadUpper[d] = ax.padLower, ax.padUpper
		r.PosTile[d] = pos[d] - (ax.lo - ax.padLower)
	}
	return r, nil
}

type axisPlan struct {
	lo, hi             int
	padLower, padUpper int
}

func resolveAxis(n, pos, size int) axisPlan {
	p := axisPlan{
		padLower: max(0, -pos),
		padUpper: max(0, pos-(n-size)),
	}
	switch {
	case size > n || (p.padLower > 0 && p.padUpper > 0):
		// Tile larger than the image: fetch the whole axis.
		p.lo, p.hi = 0, n
	case p.padLower > 0:
		// Reflection at index 0 reaches indices [0, padLower); the part
		// inside the image is [0, pos+size).
		p.lo = 0
		p.hi = min(n, max(pos+size, p.padLower))
	case p.padUpper > 0:
		// Reflection at index n reaches [n-padUpper, n); the part inside
		// the image starts at pos.
		p.lo = max(0, min(pos, n-p.padUpper))
		p.hi = n
	default:
		p.lo, p.hi = pos, pos+size
	}
	return p
}
