package augment

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tilefeed/pkg/geometry"
	"tilefeed/pkg/ndarray"
)

var (
	// ErrOutOfBounds is returned when a request needs edge reflection but
	// reflection was disabled.
	ErrOutOfBounds = errors.New("tile out of bounds")

	// ErrFetch is returned when a fetch function returns a tile of the wrong
	// shape.
	ErrFetch = errors.New("fetched tile has unexpected shape")
)

// FetchFunc reads an in-bounds region of an image. It is only ever called
// with 0 <= pos and pos+size <= image shape.
type FetchFunc[T any] func(pos, size []int) (*ndarray.Array[T], error)

// Tile returns the tile of the given size at pos of an image with
// imageShape, augmented by aug. The last two axes are the x/y plane; any
// leading axes (z, channel) are carried along.
//
// The result always has exactly the requested size. Requests reaching past
// the image are completed by symmetric reflection, or fail with
// ErrOutOfBounds when reflect is false. When a warp is needed, a region three
// times the tile size is fetched and warped, and the centre is cut out, so
// rotated content never samples reflected pixels of the warp itself.
func Tile[T any](imageShape, pos, size []int, fetch FetchFunc[T], aug Augmentation, reflect bool) (*ndarray.Array[T], error) {
	rank := len(imageShape)
	if rank < 2 || len(pos) != rank || len(size) != rank {
		return nil, errors.Wrapf(geometry.ErrDimensionMismatch,
			"image shape %v, pos %v and size %v must have equal length >= 2", imageShape, pos, size)
	}
	xAxis, yAxis := rank-2, rank-1

	// Rotating a single-pixel column about its own centre changes nothing.
	aug = aug.AppliedTo(size)
	fast := !aug.IsIdentity()
	slow := aug.NeedsWarp()
	turns := aug.quarterTurns()

	fetchPos := append([]int(nil), pos...)
	fetchSize := append([]int(nil), size...)
	if turns%2 == 1 && size[xAxis] != size[yAxis] {
		// Odd quarter turns swap the x/y extents: read the swapped window
		// around the same centre so the rotated tile has the requested shape.
		fetchSize[xAxis], fetchSize[yAxis] = size[yAxis], size[xAxis]
		fetchPos[xAxis] = pos[xAxis] + floorDiv(size[xAxis]-size[yAxis], 2)
		fetchPos[yAxis] = pos[yAxis] + floorDiv(size[yAxis]-size[xAxis], 2)
	}
	if slow {
		for d := range fetchSize {
			fetchPos[d] -= fetchSize[d]
			fetchSize[d] *= 3
		}
	}

	tile, err := WithReflection(imageShape, fetchPos, fetchSize, fetch, reflect)
	if err != nil {
		return nil, err
	}

	if fast {
		if aug.FlipLR {
			tile = tile.Flip(yAxis)
		}
		if aug.FlipUD {
			tile = tile.Flip(xAxis)
		}
		if turns != 0 {
			tile = tile.Rot90(turns)
		}
	}

	if slow {
		tile, err = Warp(tile, aug.RotationAngle, aug.ShearAngle)
		if err != nil {
			return nil, err
		}
		tile, err = tile.CropCenter(size)
		if err != nil {
			return nil, errors.Wrapf(err, "cropping warped tile %v to %v", tile.Shape(), size)
		}
	}
	return tile, nil
}

// WithReflection returns the tile of the given size at pos without any
// augmentation. Parts outside the image are filled by symmetric reflection
// when reflect is true.
func WithReflection[T any](imageShape, pos, size []int, fetch FetchFunc[T], reflect bool) (*ndarray.Array[T], error) {
	region, err := geometry.Resolve(imageShape, pos, size)
	if err != nil {
		return nil, err
	}
	if region.HasPadding() {
		if !reflect {
			return nil, errors.Wrapf(ErrOutOfBounds, "pos %v size %v in image %v", pos, size, imageShape)
		}
		klog.V(3).Infof("tile pos=%v size=%v out of bounds, extending by reflection: %s", pos, size, region)
	}

	transient, err := fetch(region.PosOut, region.SizeOut)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching pos %v size %v", region.PosOut, region.SizeOut)
	}
	if got := transient.Shape(); !equalInts(got, region.SizeOut) {
		return nil, errors.Wrapf(ErrFetch, "asked for %v, got %v", region.SizeOut, got)
	}
	if !region.HasPadding() {
		return transient, nil
	}

	padded, err := transient.PadSymmetric(region.PadLower, region.PadUpper)
	if err != nil {
		return nil, err
	}
	return padded.Window(region.PosTile, region.Size)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func equalInts(a, b []int) bool {
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
