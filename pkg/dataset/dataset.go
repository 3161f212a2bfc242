// Package dataset serves training tiles from a Source of labelled images.
//
// A Dataset resolves out-of-bounds requests by reflection, applies geometric
// augmentation, weights label masks and samples tiles so that they contain
// labelled pixels. It owns its random generator and caches, and is not safe
// for concurrent use: use one Dataset per goroutine.
package dataset

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"

	"tilefeed/pkg/labelstats"
)

// DefaultMaxPollings is the number of candidate tiles the polling strategy
// tries before giving up.
const DefaultMaxPollings = 30

// Strategy selects how random training tiles are located.
type Strategy int

const (
	// Auto uses Indexed when the source is an IndexedSource, else Polling.
	Auto Strategy = iota

	// Indexed picks a labelled pixel and places the tile around it.
	Indexed

	// Polling draws random tiles until one contains the wanted label.
	Polling
)

var strategyNames = []string{"auto", "indexed", "polling"}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseStrategy converts "auto", "indexed" or "polling" to a Strategy. The
// empty string means Auto.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Auto, nil
	}
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return Auto, errors.Wrapf(ErrStrategy, "unknown strategy %q, want one of %v", name, strategyNames)
}

// Params configures a Dataset. The zero value is usable.
type Params struct {
	// Seed seeds the Dataset's random generator.
	Seed uint64

	Strategy Strategy

	// MaxPollings bounds the polling strategy, DefaultMaxPollings if <= 0.
	MaxPollings int

	// Cache capacities in entries; defaults apply if <= 0.
	DimensionCacheSize int
	TileCacheSize      int
	LabelCacheSize     int

	// DisableReflection makes requests reaching past the image edges fail
	// with ErrOutOfBounds instead of being completed by reflection.
	DisableReflection bool
}

// Dataset serves pixel, label and training tiles of the images of a Source.
type Dataset struct {
	src      *cachedSource
	indexed  IndexedSource
	sink     PredictionSink
	strategy Strategy

	stats       *labelstats.Stats
	rng         *rand.Rand
	maxPollings int
	reflect     bool
}

// New loads the label counts of src and resolves the sampling strategy.
func New(src Source, params Params) (*Dataset, error) {
	cached, err := newCachedSource(src, params)
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		src:         cached,
		rng:         rand.New(rand.NewSource(params.Seed)),
		maxPollings: params.MaxPollings,
		reflect:     !params.DisableReflection,
	}
	if d.maxPollings <= 0 {
		d.maxPollings = DefaultMaxPollings
	}
	if sink, ok := src.(PredictionSink); ok {
		d.sink = sink
	}

	indexed, isIndexed := src.(IndexedSource)
	switch params.Strategy {
	case Auto:
		d.strategy = Polling
		if isIndexed {
			d.strategy = Indexed
		}
	case Indexed:
		if !isIndexed {
			return nil, errors.Wrapf(ErrStrategy, "indexed sampling needs a source with label coordinates, got %T", src)
		}
		d.strategy = Indexed
	case Polling:
		d.strategy = Polling
	default:
		return nil, errors.Wrapf(ErrStrategy, "unknown strategy %s", params.Strategy)
	}
	if d.strategy == Indexed {
		d.indexed = indexed
	}

	d.stats, err = labelstats.Load(src)
	if err != nil {
		return nil, errors.Wrap(err, "loading label counts")
	}
	klog.V(1).Infof("%s: labels %v, %s sampling", d, d.stats.Values(), d.strategy)
	return d, nil
}

// Strategy returns the sampling strategy in use, Indexed or Polling.
func (d *Dataset) Strategy() Strategy { return d.strategy }

// ImageCount returns the number of images.
func (d *Dataset) ImageCount() int { return d.stats.NumImages() }

// ImageDimensions returns the (C, Z, X, Y) shape of an image.
func (d *Dataset) ImageDimensions(imageNr int) ([]int, error) {
	if err := d.checkImage(imageNr); err != nil {
		return nil, err
	}
	dims, err := d.src.dimensions(imageNr)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), dims...), nil
}

// ChannelList returns the channel indices of the first image.
func (d *Dataset) ChannelList() ([]int, error) {
	dims, err := d.ImageDimensions(0)
	if err != nil {
		return nil, err
	}
	channels := make([]int, dims[0])
	for i := range channels {
		channels[i] = i
	}
	return channels, nil
}

// LabelValues returns the label values present in any image, ascending.
func (d *Dataset) LabelValues() []int { return d.stats.Values() }

// LabelCounts returns, per label value, the number of labelled pixels in
// each image.
func (d *Dataset) LabelCounts() map[int][]int64 {
	counts := make(map[int][]int64)
	for _, value := range d.stats.Values() {
		counts[value] = d.stats.Counts(value)
	}
	return counts
}

// LabelStats exposes the label statistics. Weight changes made through it
// apply to subsequent tiles.
func (d *Dataset) LabelStats() *labelstats.Stats { return d.stats }

// LabelWeights returns a copy of the weight of each label value.
func (d *Dataset) LabelWeights() map[int]float64 { return d.stats.Weights() }

// SetLabelWeight sets the weight given to the pixels of one label value.
func (d *Dataset) SetLabelWeight(weight float64, label int) error {
	return d.stats.SetWeight(label, weight)
}

// EqualizeLabelWeights weights each label inversely to its frequency.
func (d *Dataset) EqualizeLabelWeights() {
	d.stats.Equalize()
	klog.V(1).Infof("equalized label weights: %v", d.stats.Weights())
}

func (d *Dataset) checkImage(imageNr int) error {
	if n := d.stats.NumImages(); imageNr < 0 || imageNr >= n {
		return errors.Wrapf(ErrInvalidImage, "image number %d, want 0 to %d", imageNr, n-1)
	}
	return nil
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset (%d images)", d.stats.NumImages())
}
