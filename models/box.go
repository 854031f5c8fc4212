package models

import (
	"fmt"
	"math"
)

// Box is a rectangle in the coordinate space of the image that was passed to
// the detector.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Equal reports whether both boxes have exactly the same edges.
func (b Box) Equal(other Box) bool {
	return b.Left == other.Left && b.Top == other.Top && b.Right == other.Right && b.Bottom == other.Bottom
}

func (b Box) Width() float64  { return b.Right - b.Left }
func (b Box) Height() float64 { return b.Bottom - b.Top }

// Validate rejects boxes that cannot come out of a detector.
func (b Box) Validate() error {
	for _, v := range []float64{b.Left, b.Top, b.Right, b.Bottom} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("box %s has a non-finite edge", b)
		}
	}
	if b.Right < b.Left || b.Bottom < b.Top {
		return fmt.Errorf("box %s has inverted edges", b)
	}
	return nil
}

func (b Box) String() string {
	return fmt.Sprintf("(%g,%g,%g,%g)", b.Left, b.Top, b.Right, b.Bottom)
}
