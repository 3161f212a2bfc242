// Package config provides configuration loading and management for tilefeed.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tilefeed/pkg/augment"
	"tilefeed/pkg/dataset"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Data locates the images and labels
	Data struct {
		// ImageDir holds slice images, or one directory of slices per volume
		ImageDir string `yaml:"imageDir,omitempty"`

		// LabelDir mirrors ImageDir with label slices; optional
		LabelDir string `yaml:"labelDir,omitempty"`

		// Multichannel reads red, green and blue as separate channels
		Multichannel bool `yaml:"multichannel"`
	} `yaml:"data"`

	// Sampling controls which training tiles are drawn
	Sampling struct {
		// TileSize is the (z, x, y) size of the label region of a tile
		TileSize []int `yaml:"tileSize"`

		// PixelPadding enlarges pixel tiles on every side, (z, x, y)
		PixelPadding []int `yaml:"pixelPadding"`

		// Channels and Labels select pixel channels and label values; empty means all
		Channels []int `yaml:"channels,omitempty"`
		Labels   []int `yaml:"labels,omitempty"`

		// Equalized picks label values uniformly instead of by frequency
		Equalized bool `yaml:"equalized"`

		// EqualizeWeights weights labels inversely to their frequency
		EqualizeWeights bool `yaml:"equalizeWeights"`

		// MaxPollings bounds the search for a labelled tile without a label index
		MaxPollings int `yaml:"maxPollings"`

		Seed uint64 `yaml:"seed"`

		// Strategy is auto, indexed or polling
		Strategy string `yaml:"strategy"`

		// Count is the number of tiles to draw
		Count int `yaml:"count"`
	} `yaml:"sampling"`

	// Augmentation bounds the random geometric augmentation
	Augmentation struct {
		augment.Ranges `yaml:",inline"`

		// Reflect completes tiles reaching past image edges by reflection
		Reflect bool `yaml:"reflect"`
	} `yaml:"augmentation"`

	// Cache capacities, in entries
	Cache struct {
		Dimensions int `yaml:"dimensions"`
		Tiles      int `yaml:"tiles"`
		Labels     int `yaml:"labels"`
	} `yaml:"cache"`

	// Output parameters
	Output struct {
		// PreviewDir receives PNG previews of sampled tiles; empty disables them
		PreviewDir string `yaml:"previewDir,omitempty"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sampling.TileSize = []int{1, 32, 32}
	cfg.Sampling.PixelPadding = []int{0, 0, 0}
	cfg.Sampling.MaxPollings = dataset.DefaultMaxPollings
	cfg.Sampling.Seed = 42
	cfg.Sampling.Strategy = dataset.Auto.String()
	cfg.Sampling.Count = 100

	cfg.Augmentation.MaxRotation = 45
	cfg.Augmentation.MaxShear = 5
	cfg.Augmentation.Flip = true
	cfg.Augmentation.Rot90 = true
	cfg.Augmentation.Reflect = true

	cfg.Cache.Dimensions = dataset.DefaultDimensionCacheSize
	cfg.Cache.Tiles = dataset.DefaultTileCacheSize
	cfg.Cache.Labels = dataset.DefaultLabelCacheSize

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks sizes, counts and angles
func (cfg *Config) Validate() error {
	s := &cfg.Sampling
	if len(s.TileSize) != 3 {
		return errors.Errorf("sampling.tileSize %v must have 3 elements (z, x, y)", s.TileSize)
	}
	for _, v := range s.TileSize {
		if v <= 0 {
			return errors.Errorf("sampling.tileSize %v must be positive", s.TileSize)
		}
	}
	if len(s.PixelPadding) != 0 && len(s.PixelPadding) != 3 {
		return errors.Errorf("sampling.pixelPadding %v must have 3 elements (z, x, y)", s.PixelPadding)
	}
	for _, v := range s.PixelPadding {
		if v < 0 {
			return errors.Errorf("sampling.pixelPadding %v must not be negative", s.PixelPadding)
		}
	}
	if s.Count < 0 {
		return errors.Errorf("sampling.count %d must not be negative", s.Count)
	}
	if _, err := dataset.ParseStrategy(s.Strategy); err != nil {
		return errors.Wrap(err, "sampling.strategy")
	}

	a := &cfg.Augmentation
	if a.MaxRotation < 0 || a.MaxShear < 0 {
		return errors.Errorf("augmentation angles must not be negative, got rotation %g shear %g", a.MaxRotation, a.MaxShear)
	}
	if a.MaxShear >= 90 {
		return errors.Errorf("augmentation.maxShear %g must be below 90 degrees", a.MaxShear)
	}
	return nil
}

// DatasetParams converts the sampling and cache settings to dataset.Params
func (cfg *Config) DatasetParams() (dataset.Params, error) {
	strategy, err := dataset.ParseStrategy(cfg.Sampling.Strategy)
	if err != nil {
		return dataset.Params{}, err
	}
	return dataset.Params{
		Seed:               cfg.Sampling.Seed,
		Strategy:           strategy,
		MaxPollings:        cfg.Sampling.MaxPollings,
		DimensionCacheSize: cfg.Cache.Dimensions,
		TileCacheSize:      cfg.Cache.Tiles,
		LabelCacheSize:     cfg.Cache.Labels,
		DisableReflection:  !cfg.Augmentation.Reflect,
	}, nil
}

// TileRequest builds the request for random training tiles. Augmentation is
// drawn per tile when any range is enabled.
func (cfg *Config) TileRequest() dataset.TileRequest {
	req := dataset.TileRequest{
		Size:         append([]int(nil), cfg.Sampling.TileSize...),
		PixelPadding: append([]int(nil), cfg.Sampling.PixelPadding...),
		Equalized:    cfg.Sampling.Equalized,
	}
	if len(cfg.Sampling.Channels) > 0 {
		req.Channels = append([]int(nil), cfg.Sampling.Channels...)
	}
	if len(cfg.Sampling.Labels) > 0 {
		req.Labels = append([]int(nil), cfg.Sampling.Labels...)
	}
	if len(req.PixelPadding) == 0 {
		req.PixelPadding = nil
	}
	r := cfg.Augmentation.Ranges
	if r.MaxRotation > 0 || r.MaxShear > 0 || r.Flip || r.Rot90 {
		req.RandomAugmentation = &r
	}
	return req
}
