// Package source provides image sources for datasets: an in-memory store of
// pixel and label volumes, and a loader for directories of slice images.
package source

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"

	"tilefeed/pkg/ndarray"
)

var (
	// ErrNoImage is returned for image numbers outside [0, ImageCount).
	ErrNoImage = errors.New("no such image")

	// ErrShape is returned for volumes, windows or tiles of the wrong shape.
	ErrShape = errors.New("invalid shape")

	// ErrLabelIndex is returned for label indices past an image's count.
	ErrLabelIndex = errors.New("label index out of range")
)

type memoryImage struct {
	name   string
	pixels *ndarray.Array[float64] // (C, Z, X, Y)
	labels *ndarray.Array[int]     // (L, Z, X, Y), nil if unlabelled

	// Offsets into labels.Data() per label value, built on first use.
	index  map[int][]int
	counts map[int]int64
}

type probKey struct {
	image, label int
}

// Memory holds images and label volumes in memory. Labels are stored as
// integer volumes with one or more label channels, where 0 marks unlabelled
// pixels. Memory also collects prediction tiles into probability maps.
type Memory struct {
	images []*memoryImage
	probs  map[probKey]*ndarray.Array[float64]
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{probs: make(map[probKey]*ndarray.Array[float64])}
}

// Add appends an image. pixels has shape (C, Z, X, Y); labels has shape
// (L, Z, X, Y) or (Z, X, Y) and may be nil for unlabelled images. Negative
// label values are not allowed.
func (m *Memory) Add(name string, pixels *ndarray.Array[float64], labels *ndarray.Array[int]) error {
	if pixels.Rank() != 4 {
		return errors.Wrapf(ErrShape, "image %q has shape %v, want (C, Z, X, Y)", name, pixels.Shape())
	}
	if labels != nil {
		if labels.Rank() == 3 {
			var err error
			if labels, err = labels.Reshape(append([]int{1}, labels.Shape()...)...); err != nil {
				return err
			}
		}
		if labels.Rank() != 4 || !equalInts(labels.Shape()[1:], pixels.Shape()[1:]) {
			return errors.Wrapf(ErrShape, "labels of %q have shape %v, image has %v", name, labels.Shape(), pixels.Shape())
		}
		if labels.Any(func(v int) bool { return v < 0 }) {
			return errors.Errorf("labels of %q contain negative values", name)
		}
	}
	m.images = append(m.images, &memoryImage{name: name, pixels: pixels, labels: labels})
	klog.V(2).Infof("added image %q with shape %v, labelled: %t", name, pixels.Shape(), labels != nil)
	return nil
}

// ImageCount returns the number of images.
func (m *Memory) ImageCount() int { return len(m.images) }

// Name returns the name an image was added with.
func (m *Memory) Name(imageNr int) (string, error) {
	img, err := m.image(imageNr)
	if err != nil {
		return "", err
	}
	return img.name, nil
}

// ImageDimensions returns the (C, Z, X, Y) shape of an image.
func (m *Memory) ImageDimensions(imageNr int) ([]int, error) {
	img, err := m.image(imageNr)
	if err != nil {
		return nil, err
	}
	return img.pixels.Shape(), nil
}

// Tile returns a copy of the pixels in [pos, pos+size), (c, z, x, y).
func (m *Memory) Tile(imageNr int, pos, size []int) (*ndarray.Array[float64], error) {
	img, err := m.image(imageNr)
	if err != nil {
		return nil, err
	}
	t, err := img.pixels.Window(pos, size)
	if err != nil {
		return nil, errors.Wrapf(ErrShape, "image %d: %v", imageNr, err)
	}
	return t, nil
}

// LabelTile returns the (z, x, y) mask of label in [pos, pos+size). A pixel
// is set if any label channel holds label there.
func (m *Memory) LabelTile(imageNr int, pos, size []int, label int) (*ndarray.Array[bool], error) {
	img, err := m.image(imageNr)
	if err != nil {
		return nil, err
	}
	if len(pos) != 3 || len(size) != 3 {
		return nil, errors.Wrapf(ErrShape, "label tile pos %v size %v must be (z, x, y)", pos, size)
	}
	if img.labels == nil {
		if _, err := img.pixels.Window(append([]int{0}, pos...), append([]int{1}, size...)); err != nil {
			return nil, errors.Wrapf(ErrShape, "image %d: %v", imageNr, err)
		}
		return ndarray.New[bool](size...), nil
	}
	channels := img.labels.Dim(0)
	window, err := img.labels.Window(append([]int{0}, pos...), append([]int{channels}, size...))
	if err != nil {
		return nil, errors.Wrapf(ErrShape, "image %d: %v", imageNr, err)
	}
	mask := ndarray.New[bool](size...)
	plane := mask.Size()
	values, out := window.Data(), mask.Data()
	for c := 0; c < channels; c++ {
		for i, v := range values[c*plane : (c+1)*plane] {
			if v == label {
				out[i] = true
			}
		}
	}
	return mask, nil
}

// LabelCountForImage returns the number of pixels per label value, summed
// over label channels, or nil for unlabelled images.
func (m *Memory) LabelCountForImage(imageNr int) (map[int]int64, error) {
	img, err := m.image(imageNr)
	if err != nil {
		return nil, err
	}
	if img.labels == nil {
		return nil, nil
	}
	img.buildIndex()
	counts := make(map[int]int64, len(img.counts))
	for k, v := range img.counts {
		counts[k] = v
	}
	return counts, nil
}

// LabelIndexToCoordinate returns the (c, z, x, y) coordinate of the
// index-th pixel holding label, in row-major order over the label volume.
func (m *Memory) LabelIndexToCoordinate(imageNr, label int, index int64) ([]int, error) {
	img, err := m.image(imageNr)
	if err != nil {
		return nil, err
	}
	if img.labels == nil {
		return nil, errors.Wrapf(ErrLabelIndex, "image %d has no labels", imageNr)
	}
	img.buildIndex()
	offsets := img.index[label]
	if index < 0 || index >= int64(len(offsets)) {
		return nil, errors.Wrapf(ErrLabelIndex, "index %d of label %d in image %d with %d pixels", index, label, imageNr, len(offsets))
	}
	return img.labels.Unravel(offsets[index]), nil
}

func (img *memoryImage) buildIndex() {
	if img.index != nil {
		return
	}
	img.index = make(map[int][]int)
	img.counts = make(map[int]int64)
	for off, v := range img.labels.Data() {
		if v == 0 {
			continue
		}
		img.index[v] = append(img.index[v], off)
		img.counts[v]++
	}
	klog.V(3).Infof("indexed labels of %q: %v", img.name, img.counts)
}

// PutTile writes a (z, x, y) probability tile for label into the image's
// probability map at pos, replacing earlier values.
func (m *Memory) PutTile(pixels *ndarray.Array[float64], pos []int, imageNr, label int) error {
	img, err := m.image(imageNr)
	if err != nil {
		return err
	}
	key := probKey{image: imageNr, label: label}
	prob, found := m.probs[key]
	if !found {
		prob = ndarray.New[float64](img.pixels.Shape()[1:]...)
		m.probs[key] = prob
	}
	if err := prob.Paste(pixels, pos); err != nil {
		return errors.Wrapf(ErrShape, "prediction tile %v at %v: %v", pixels.Shape(), pos, err)
	}
	return nil
}

// Probabilities returns a copy of the (z, x, y) probability map of label in
// an image, and false if no tile was put for it.
func (m *Memory) Probabilities(imageNr, label int) (*ndarray.Array[float64], bool) {
	prob, found := m.probs[probKey{image: imageNr, label: label}]
	if !found {
		return nil, false
	}
	return prob.Clone(), true
}

// ProbabilityLabels returns the label values with a probability map for an
// image, ascending.
func (m *Memory) ProbabilityLabels(imageNr int) []int {
	var labels []int
	for k := range m.probs {
		if k.image == imageNr {
			labels = append(labels, k.label)
		}
	}
	sort.Ints(labels)
	return labels
}

// FilterLabeled returns a Memory sharing only the labelled images of m.
func (m *Memory) FilterLabeled() *Memory {
	out := NewMemory()
	for _, img := range m.images {
		if img.labels != nil {
			out.images = append(out.images, img)
		}
	}
	return out
}

// Split divides the images pseudo-randomly into two Memory sources, the
// first of about (1-fraction)*ImageCount images and the second of about
// fraction*ImageCount. The same seed always gives the same split.
func (m *Memory) Split(fraction float64, seed uint64) (*Memory, *Memory) {
	rng := rand.New(rand.NewSource(seed))
	first, second := NewMemory(), NewMemory()
	for _, img := range m.images {
		if rng.Float64() >= fraction {
			first.images = append(first.images, img)
		} else {
			second.images = append(second.images, img)
		}
	}
	if first.ImageCount() == 0 {
		klog.Warningf("split(%g): first source is empty", fraction)
	}
	if second.ImageCount() == 0 {
		klog.Warningf("split(%g): second source is empty", fraction)
	}
	return first, second
}

// Polling returns a view of m without label coordinates, so datasets over it
// sample by polling.
func (m *Memory) Polling() *PollingSource { return &PollingSource{m: m} }

func (m *Memory) image(imageNr int) (*memoryImage, error) {
	if imageNr < 0 || imageNr >= len(m.images) {
		return nil, errors.Wrapf(ErrNoImage, "image %d of %d", imageNr, len(m.images))
	}
	return m.images[imageNr], nil
}

func (m *Memory) String() string {
	return fmt.Sprintf("Memory(%d images)", len(m.images))
}

// PollingSource exposes the pixels and labels of a Memory, without its label
// index and prediction sink.
type PollingSource struct {
	m *Memory
}

func (p *PollingSource) ImageCount() int { return p.m.ImageCount() }

func (p *PollingSource) ImageDimensions(imageNr int) ([]int, error) {
	return p.m.ImageDimensions(imageNr)
}

func (p *PollingSource) Tile(imageNr int, pos, size []int) (*ndarray.Array[float64], error) {
	return p.m.Tile(imageNr, pos, size)
}

func (p *PollingSource) LabelTile(imageNr int, pos, size []int, label int) (*ndarray.Array[bool], error) {
	return p.m.LabelTile(imageNr, pos, size, label)
}

func (p *PollingSource) LabelCountForImage(imageNr int) (map[int]int64, error) {
	return p.m.LabelCountForImage(imageNr)
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
