package dataset

import (
	"github.com/pkg/errors"

	"tilefeed/pkg/augment"
	"tilefeed/pkg/geometry"
	"tilefeed/pkg/labelstats"
)

// Errors returned by Dataset methods, wrapped with context. Test for them
// with errors.Is.
var (
	ErrInvalidImage      = errors.New("invalid image number")
	ErrDimensionMismatch = geometry.ErrDimensionMismatch
	ErrOutOfBounds       = augment.ErrOutOfBounds
	ErrUnknownLabel      = labelstats.ErrUnknownLabel
	ErrEmptyLabel        = labelstats.ErrEmptyLabel
	ErrNoSink            = errors.New("source does not accept prediction tiles")
	ErrStrategy          = errors.New("sampling strategy not supported by source")
)
