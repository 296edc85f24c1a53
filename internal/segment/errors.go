package segment

import (
	"errors"
	"fmt"
)

// ErrSegmentation marks input that is not decodable text.
var ErrSegmentation = errors.New("segmentation failed")

// SegmentationError reports where decoding failed. Offset is a byte offset into
// the raw input because no character index exists yet.
type SegmentationError struct {
	Path   string
	Offset int
	Reason string
}

func (e *SegmentationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("segmentation: %s at byte %d", e.Reason, e.Offset)
	}
	return fmt.Sprintf("segmentation %s: %s at byte %d", e.Path, e.Reason, e.Offset)
}

func (e *SegmentationError) Unwrap() error { return ErrSegmentation }
