package models

import (
	"image"
)

// Slice is one z-slice of an image volume, read from a file
type Slice struct {
	// Image is the decoded slice
	Image image.Image

	// Index is the position of this slice in the stack
	Index int

	// Filename is the file the slice was read from
	Filename string
}

// Stack is the ordered z-slices of one image volume
type Stack struct {
	// Name identifies the volume, usually its directory name
	Name string

	Slices []Slice
}

// Depth returns the number of slices
func (s *Stack) Depth() int { return len(s.Slices) }

// Bounds returns the bounds of the first slice, or an empty rectangle
func (s *Stack) Bounds() image.Rectangle {
	if len(s.Slices) == 0 {
		return image.Rectangle{}
	}
	return s.Slices[0].Image.Bounds()
}
