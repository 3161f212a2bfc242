package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"

	"tilefeed/pkg/config"
	"tilefeed/pkg/dataset"
	"tilefeed/pkg/ndarray"
	"tilefeed/pkg/source"
	"tilefeed/pkg/visualization"
)

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "tilefeed.yaml", "YAML configuration file (defaults are used when it does not exist)")
	imageDir := flag.String("images", "", "Directory of image slices, or of one slice directory per volume (overrides config)")
	labelDir := flag.String("labels", "", "Directory of label slices mirroring -images (overrides config)")
	count := flag.Int("n", -1, "Number of training tiles to draw (overrides config)")
	seed := flag.Int64("seed", -1, "Random seed (overrides config)")
	previewDir := flag.String("preview-dir", "", "Directory to save PNG previews of the drawn tiles (overrides config)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.Parse()
	defer klog.Flush()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			klog.Errorf("%+v", err)
			klog.Flush()
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		klog.Errorf("Failed to load configuration: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
	if *imageDir != "" {
		cfg.Data.ImageDir = *imageDir
	}
	if *labelDir != "" {
		cfg.Data.LabelDir = *labelDir
	}
	if *count >= 0 {
		cfg.Sampling.Count = *count
	}
	if *seed >= 0 {
		cfg.Sampling.Seed = uint64(*seed)
	}
	if *previewDir != "" {
		cfg.Output.PreviewDir = *previewDir
	}
	if cfg.Output.Verbose && !klog.V(1).Enabled() {
		_ = flag.Set("v", "1")
	}

	if err := run(cfg); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	src, err := loadSource(cfg)
	if err != nil {
		return err
	}
	klog.V(1).Infof("%s", src)

	params, err := cfg.DatasetParams()
	if err != nil {
		return err
	}
	ds, err := dataset.New(src, params)
	if err != nil {
		return errors.WithMessage(err, "building dataset")
	}
	if cfg.Sampling.EqualizeWeights {
		ds.EqualizeLabelWeights()
	}

	fmt.Println("================================")
	fmt.Printf("%s, %s sampling\n", ds, ds.Strategy())
	fmt.Println("================================")
	fmt.Println(labelTable(ds.LabelStats().Summary()))

	if cfg.Sampling.Count == 0 {
		return nil
	}
	return sample(ds, cfg)
}

// loadSource reads the configured slice directories, or builds a small
// synthetic dataset when no image directory is set.
func loadSource(cfg *config.Config) (*source.Memory, error) {
	if cfg.Data.ImageDir == "" {
		klog.Infof("No image directory configured, using a synthetic dataset")
		return syntheticSource(cfg.Sampling.Seed)
	}
	src, err := source.LoadSliceDir(cfg.Data.ImageDir, cfg.Data.LabelDir, cfg.Data.Multichannel)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading slices from %q", cfg.Data.ImageDir)
	}
	return src, nil
}

// syntheticSource returns two noisy single-channel volumes, each holding a
// bright ball labelled 1 and a dim box labelled 2.
func syntheticSource(seed uint64) (*source.Memory, error) {
	const depth, size = 4, 64
	rng := rand.New(rand.NewSource(seed))
	src := source.NewMemory()
	for n := 0; n < 2; n++ {
		pixels := ndarray.New[float64](1, depth, size, size)
		labels := ndarray.New[int](depth, size, size)
		cx, cy := 16+rng.Intn(32), 16+rng.Intn(32)
		radius := 6.0 + 4*rng.Float64()
		bx, by := rng.Intn(size-12), rng.Intn(size-12)
		for z := 0; z < depth; z++ {
			for x := 0; x < size; x++ {
				for y := 0; y < size; y++ {
					value := 0.1 + 0.05*rng.NormFloat64()
					switch {
					case math.Hypot(float64(x-cx), float64(y-cy)) <= radius:
						value += 0.7
						labels.Set(1, z, x, y)
					case x >= bx && x < bx+12 && y >= by && y < by+12:
						value += 0.3
						labels.Set(2, z, x, y)
					}
					pixels.Set(value, 0, z, x, y)
				}
			}
		}
		if err := src.Add(fmt.Sprintf("synthetic_%d", n), pixels, labels); err != nil {
			return nil, err
		}
	}
	return src, nil
}

func sample(ds *dataset.Dataset, cfg *config.Config) error {
	req := cfg.TileRequest()
	previewDir := cfg.Output.PreviewDir

	bar := progressbar.NewOptions(cfg.Sampling.Count,
		progressbar.OptionSetDescription("drawing tiles"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tiles"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	perImage := make(map[int]int)
	var labelled int
	start := time.Now()
	for i := 0; i < cfg.Sampling.Count; i++ {
		tile, err := ds.RandomTrainingTile(req)
		if err != nil {
			_ = bar.Exit()
			return errors.WithMessagef(err, "drawing tile %d", i)
		}
		perImage[tile.Image]++
		for _, w := range tile.Weights.Data() {
			if w > 0 {
				labelled++
				break
			}
		}
		if previewDir != "" {
			if err := visualization.SaveTrainingTile(tile, previewDir, fmt.Sprintf("tile%04d", i)); err != nil {
				_ = bar.Exit()
				return errors.WithMessage(err, "saving preview")
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	elapsed := time.Since(start)

	fmt.Printf("\n\nDrew %d tiles in %s (%d with labels)\n", cfg.Sampling.Count, elapsed.Round(time.Millisecond), labelled)
	fmt.Println(imageTable(ds, perImage))
	if previewDir != "" {
		abs, err := filepath.Abs(previewDir)
		if err != nil {
			abs = previewDir
		}
		fmt.Printf("Previews saved to: %s\n", abs)
	}
	return nil
}
