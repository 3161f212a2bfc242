package source

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tilefeed/internal/models"
	"tilefeed/pkg/ndarray"
)

var sliceExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".tif": true, ".tiff": true, ".bmp": true,
}

// LoadSliceDir reads image volumes stored as directories of z-slice images.
//
// If imageDir holds slice images itself, it is a single volume; otherwise
// every subdirectory is one volume. Slices are ordered by the number in
// their filename. Label volumes are looked up under labelDir by the same
// layout: gray value 0 is unlabelled, other gray values are labels. They are
// renumbered 1, 2, ... in ascending order over all volumes. Volumes without
// labels are added unlabelled; labelDir may be empty.
//
// With multichannel set, images get red, green and blue channels; otherwise
// a single gray channel. Pixel values are scaled to [0, 1]. Axis x runs
// along the image width and y along its height.
func LoadSliceDir(imageDir, labelDir string, multichannel bool) (*Memory, error) {
	volumes, single, err := volumeDirs(imageDir)
	if err != nil {
		return nil, err
	}

	pixels := make([]*ndarray.Array[float64], len(volumes))
	labels := make([]*ndarray.Array[int], len(volumes))
	for i, dir := range volumes {
		stack, err := readStack(dir)
		if err != nil {
			return nil, err
		}
		pixels[i] = stackPixels(stack, multichannel)

		if labelDir == "" {
			continue
		}
		lblDir := labelDir
		if !single {
			lblDir = filepath.Join(labelDir, stack.Name)
		}
		if _, err := os.Stat(lblDir); os.IsNotExist(err) {
			klog.Warningf("no label directory for volume %q", stack.Name)
			continue
		}
		lblStack, err := readStack(lblDir)
		if err != nil {
			return nil, errors.Wrapf(err, "labels of %q", stack.Name)
		}
		if lblStack.Depth() != stack.Depth() || lblStack.Bounds().Size() != stack.Bounds().Size() {
			return nil, errors.Wrapf(ErrShape, "labels of %q have %d slices of %v, image has %d of %v",
				stack.Name, lblStack.Depth(), lblStack.Bounds().Size(), stack.Depth(), stack.Bounds().Size())
		}
		labels[i] = stackLabels(lblStack)
	}

	mapping := LabelValueMapping(labels...)
	klog.V(1).Infof("label values mapped as %v", mapping)

	m := NewMemory()
	for i, dir := range volumes {
		if labels[i] != nil {
			labels[i] = ndarray.Map(labels[i], func(v int) int { return mapping[v] })
		}
		if err := m.Add(filepath.Base(dir), pixels[i], labels[i]); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("loaded %d volumes from %s", m.ImageCount(), imageDir)
	return m, nil
}

// LabelValueMapping assigns the non-zero values found in labels the
// values 1, 2, ... in ascending order. Zero maps to zero.
func LabelValueMapping(labels ...*ndarray.Array[int]) map[int]int {
	seen := make(map[int]bool)
	for _, l := range labels {
		if l == nil {
			continue
		}
		for _, v := range l.Data() {
			if v != 0 {
				seen[v] = true
			}
		}
	}
	values := make([]int, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Ints(values)

	mapping := map[int]int{0: 0}
	for i, v := range values {
		mapping[v] = i + 1
	}
	return mapping
}

// volumeDirs returns the volume directories under imageDir and whether
// imageDir is a single volume.
func volumeDirs(imageDir string) ([]string, bool, error) {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, false, errors.Wrap(err, "reading image directory")
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(imageDir, e.Name()))
		} else if sliceExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			return []string{imageDir}, true, nil
		}
	}
	if len(dirs) == 0 {
		return nil, false, errors.Errorf("no slice images or volume directories in %s", imageDir)
	}
	sort.Strings(dirs)
	return dirs, false, nil
}

// readStack loads the slice images of dir, ordered by the number in their
// filenames.
func readStack(dir string) (*models.Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && sliceExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no slice images found in %s", dir)
	}
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	stack := &models.Stack{Name: filepath.Base(dir)}
	for i, name := range files {
		img, err := imaging.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load slice %s", name)
		}
		if i > 0 && img.Bounds().Size() != stack.Bounds().Size() {
			return nil, errors.Wrapf(ErrShape, "slice %s is %v, earlier slices are %v", name, img.Bounds().Size(), stack.Bounds().Size())
		}
		stack.Slices = append(stack.Slices, models.Slice{Image: img, Index: i, Filename: name})
	}
	klog.V(2).Infof("read %d slices of %v from %s", stack.Depth(), stack.Bounds().Size(), dir)
	return stack, nil
}

// extractNumber returns the digits of a filename read as one number, or 0.
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// stackPixels converts a stack to a (C, Z, X, Y) array scaled to [0, 1].
func stackPixels(stack *models.Stack, multichannel bool) *ndarray.Array[float64] {
	size := stack.Bounds().Size()
	channels := 1
	if multichannel {
		channels = 3
	}
	out := ndarray.New[float64](channels, stack.Depth(), size.X, size.Y)
	for z, s := range stack.Slices {
		var nrgba *image.NRGBA
		if multichannel {
			nrgba = imaging.Clone(s.Image)
		} else {
			nrgba = imaging.Grayscale(s.Image)
		}
		for x := 0; x < size.X; x++ {
			for y := 0; y < size.Y; y++ {
				p := y*nrgba.Stride + x*4
				for c := 0; c < channels; c++ {
					out.Set(float64(nrgba.Pix[p+c])/255, c, z, x, y)
				}
			}
		}
	}
	return out
}

// stackLabels converts a label stack to a (1, Z, X, Y) array of gray values.
func stackLabels(stack *models.Stack) *ndarray.Array[int] {
	size := stack.Bounds().Size()
	out := ndarray.New[int](1, stack.Depth(), size.X, size.Y)
	for z, s := range stack.Slices {
		gray := imaging.Grayscale(s.Image)
		for x := 0; x < size.X; x++ {
			for y := 0; y < size.Y; y++ {
				out.Set(int(gray.Pix[y*gray.Stride+x*4]), 0, z, x, y)
			}
		}
	}
	return out
}
