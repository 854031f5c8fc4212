package models

// RegionView is a face region as shown to a user.
type RegionView struct {
	Box Box    `json:"box"`
	Tag string `json:"tag"`
}

// DisplayImage is an analysed image with faces joined with its regions. It is
// derived from the store and never persisted; Selected only lives in the read
// model.
type DisplayImage struct {
	ImageID         string       `json:"image_id"`
	DetectionWidth  int          `json:"detection_width"`
	DetectionHeight int          `json:"detection_height"`
	TakenAt         *int64       `json:"taken_at,omitempty"`
	Regions         []RegionView `json:"regions"`
	Selected        bool         `json:"selected,omitempty"`
}

// WithTag returns a copy of the image where the region matching box carries
// tag. Other regions are untouched.
func (d DisplayImage) WithTag(box Box, tag string) DisplayImage {
	regions := make([]RegionView, len(d.Regions))
	for i, r := range d.Regions {
		if r.Box.Equal(box) {
			r.Tag = tag
		}
		regions[i] = r
	}
	d.Regions = regions
	return d
}

// Region returns the region with exactly the given box.
func (d DisplayImage) Region(box Box) (RegionView, bool) {
	for _, r := range d.Regions {
		if r.Box.Equal(box) {
			return r, true
		}
	}
	return RegionView{}, false
}
