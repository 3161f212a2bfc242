// Package labelstats keeps per-image label occurrence counts for a set of
// images and derives label weights and label-proportional random choices
// from them.
package labelstats

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

var (
	// ErrUnknownLabel is returned for label values that occur in no image.
	ErrUnknownLabel = errors.New("unknown label value")

	// ErrEmptyLabel is returned when sampling from labels with no occurrences.
	ErrEmptyLabel = errors.New("no labels to sample from")

	// ErrIndex is returned for label indices outside [0, total count).
	ErrIndex = errors.New("label index out of range")
)

// CountSource reports label occurrence counts per image. A nil map means the
// image carries no label data.
type CountSource interface {
	ImageCount() int
	LabelCountForImage(imageNr int) (map[int]int64, error)
}

// Stats holds label counts per image and a weight per label value.
type Stats struct {
	numImages int
	values    []int
	counts    map[int][]int64
	weights   map[int]float64
}

// New builds Stats from counts (label value -> per-image counts). Every
// count vector must have numImages entries. Weights start at 1.
func New(numImages int, counts map[int][]int64) (*Stats, error) {
	s := &Stats{
		numImages: numImages,
		counts:    make(map[int][]int64, len(counts)),
		weights:   make(map[int]float64, len(counts)),
	}
	for value, perImage := range counts {
		if len(perImage) != numImages {
			return nil, errors.Errorf("label %d has %d counts for %d images", value, len(perImage), numImages)
		}
		s.counts[value] = append([]int64(nil), perImage...)
		s.weights[value] = 1
		s.values = append(s.values, value)
	}
	sort.Ints(s.values)
	return s, nil
}

// Load queries src for the label counts of every image. Label values missing
// from an image's report count as zero for that image.
func Load(src CountSource) (*Stats, error) {
	n := src.ImageCount()
	counts := make(map[int][]int64)
	for i := 0; i < n; i++ {
		perImage, err := src.LabelCountForImage(i)
		if err != nil {
			return nil, errors.Wrapf(err, "label counts for image %d", i)
		}
		if perImage == nil {
			klog.V(1).Infof("image %d has no label data", i)
			continue
		}
		for value, count := range perImage {
			if count <= 0 {
				continue
			}
			if _, found := counts[value]; !found {
				counts[value] = make([]int64, n)
			}
			counts[value][i] = count
		}
	}
	klog.V(2).Infof("label counts for %d images: %v", n, counts)
	return New(n, counts)
}

// NumImages is the number of images the counts cover.
func (s *Stats) NumImages() int { return s.numImages }

// Values returns the known label values in ascending order.
func (s *Stats) Values() []int { return append([]int(nil), s.values...) }

// Has reports whether value is a known label value.
func (s *Stats) Has(value int) bool {
	_, found := s.counts[value]
	return found
}

// Check returns ErrUnknownLabel, listing the valid values, if value is not
// known.
func (s *Stats) Check(value int) error {
	if !s.Has(value) {
		return errors.Wrapf(ErrUnknownLabel, "label value %d not valid, possible label values are %v", value, s.values)
	}
	return nil
}

// Counts returns a copy of the per-image counts of value.
func (s *Stats) Counts(value int) []int64 {
	return append([]int64(nil), s.counts[value]...)
}

// Total returns the number of occurrences of value over all images.
func (s *Stats) Total(value int) int64 {
	var total int64
	for _, c := range s.counts[value] {
		total += c
	}
	return total
}

// ImageCounts returns, per image, the summed counts of all label values.
func (s *Stats) ImageCounts() []int64 {
	sums := make([]int64, s.numImages)
	for _, perImage := range s.counts {
		for i, c := range perImage {
			sums[i] += c
		}
	}
	return sums
}

// Weight returns the weight of value (0 if unknown).
func (s *Stats) Weight(value int) float64 { return s.weights[value] }

// Weights returns a copy of the weight table.
func (s *Stats) Weights() map[int]float64 {
	w := make(map[int]float64, len(s.weights))
	for k, v := range s.weights {
		w[k] = v
	}
	return w
}

// SetWeight sets the weight of a known label value.
func (s *Stats) SetWeight(value int, weight float64) error {
	if err := s.Check(value); err != nil {
		klog.Warningf("could not set label weight for label value %d", value)
		return err
	}
	s.weights[value] = weight
	return nil
}

// Equalize sets each label's weight to 1/total, normalised so the weights
// sum to one: rare labels weigh more than frequent ones. Labels with no
// occurrences get weight 0.
func (s *Stats) Equalize() {
	inv := make([]float64, len(s.values))
	for i, value := range s.values {
		if total := s.Total(value); total > 0 {
			inv[i] = 1 / float64(total)
		}
	}
	if sum := floats.Sum(inv); sum > 0 {
		floats.Scale(1/sum, inv)
	}
	for i, value := range s.values {
		s.weights[value] = inv[i]
	}
}

// RandomValue picks a label value. With equalized set every value is
// equally likely; otherwise a value is picked with probability proportional
// to its total count.
func (s *Stats) RandomValue(rng *rand.Rand, equalized bool) (int, error) {
	if len(s.values) == 0 {
		return 0, errors.Wrap(ErrEmptyLabel, "dataset has no label values")
	}
	if equalized {
		return s.values[rng.Intn(len(s.values))], nil
	}
	totals := make([]float64, len(s.values))
	for i, value := range s.values {
		totals[i] = float64(s.Total(value))
	}
	if floats.Sum(totals) <= 0 {
		return 0, errors.Wrap(ErrEmptyLabel, "all label values have zero counts")
	}
	idx := int(distuv.NewCategorical(totals, rng).Rand())
	return s.values[idx], nil
}

// Coordinate maps the index-th occurrence of value, counting through the images
// in order, to the image holding it and the occurrence's index within that
// image.
func (s *Stats) Coordinate(value int, index int64) (imageNr int, within int64, err error) {
	if err = s.Check(value); err != nil {
		return 0, 0, err
	}
	total := s.Total(value)
	if index < 0 || index >= total {
		return 0, 0, errors.Wrapf(ErrIndex, "index %d for label %d with %d occurrences", index, value, total)
	}
	var cumulative int64
	for i, c := range s.counts[value] {
		if cumulative+c > index {
			return i, index - cumulative, nil
		}
		cumulative += c
	}
	// Unreachable: index < total.
	return 0, 0, errors.Wrapf(ErrIndex, "index %d for label %d", index, value)
}

// LabelSummary describes one label value.
type LabelSummary struct {
	Value        int
	Total        int64
	Images       int     // images containing the label
	Fraction     float64 // share of all label occurrences
	MeanPerImage float64
	Weight       float64
}

// Summary returns one LabelSummary per label value, in ascending value order.
func (s *Stats) Summary() []LabelSummary {
	var grand float64
	for _, value := range s.values {
		grand += float64(s.Total(value))
	}
	out := make([]LabelSummary, 0, len(s.values))
	for _, value := range s.values {
		perImage := make([]float64, s.numImages)
		images := 0
		for i, c := range s.counts[value] {
			perImage[i] = float64(c)
			if c > 0 {
				images++
			}
		}
		sum := LabelSummary{
			Value:  value,
			Total:  s.Total(value),
			Images: images,
			Weight: s.weights[value],
		}
		if s.numImages > 0 {
			sum.MeanPerImage = stat.Mean(perImage, nil)
		}
		if grand > 0 {
			sum.Fraction = float64(sum.Total) / grand
		}
		out = append(out, sum)
	}
	return out
}

func (s *Stats) String() string {
	return fmt.Sprintf("label stats (%d images, labels %v)", s.numImages, s.values)
}
