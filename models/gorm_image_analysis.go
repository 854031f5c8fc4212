package models

// ImageAnalysis records that face detection completed for one image.
// It corresponds to the 'image_analyses' table. A row only exists once
// detection finished, so its presence is what makes a re-run skip the image.
type ImageAnalysis struct {
	ImageID string `gorm:"primaryKey" json:"image_id"` // absolute, slash separated path
	HasFace bool   `gorm:"not null;index" json:"has_face"`

	// size of the image the region boxes refer to
	DetectionWidth  int `gorm:"not null;default:0" json:"detection_width"`
	DetectionHeight int `gorm:"not null;default:0" json:"detection_height"`

	TakenAt    *int64 `gorm:"" json:"taken_at,omitempty"`   // Nullable, Unix timestamp from EXIF
	AnalyzedAt int64  `gorm:"not null" json:"analyzed_at"` // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (ImageAnalysis) TableName() string {
	return "image_analyses"
}
