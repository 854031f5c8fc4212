package media

import (
	"context"
	"fmt"

	"github.com/camden-git/facetagger/models"
)

// Detection is the outcome of running face detection on one image. Boxes are
// in the coordinate space of the Width x Height image that was analysed.
type Detection struct {
	Boxes   []models.Box
	Width   int
	Height  int
	TakenAt *int64
}

// HasFace reports whether at least one face was found.
func (d Detection) HasFace() bool {
	return len(d.Boxes) > 0
}

// Detector finds faces in an image identified by its image id.
type Detector interface {
	Detect(ctx context.Context, imageID string) (Detection, error)
}

// DetectionError means the detector could not produce a result for an image.
type DetectionError struct {
	ImageID string
	Err     error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed for %s: %v", e.ImageID, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
