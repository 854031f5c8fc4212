package models

// FaceRegion is a detected face inside an analysed image, using GORM.
// It corresponds to the 'face_regions' table. A region is identified by its
// image and its exact box edges, enforced by idx_face_regions_identity.
type FaceRegion struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ImageID   string  `gorm:"not null;uniqueIndex:idx_face_regions_identity,priority:1" json:"image_id"`
	Left      float64 `gorm:"column:box_left;not null;uniqueIndex:idx_face_regions_identity,priority:2" json:"left"`
	Top       float64 `gorm:"column:box_top;not null;uniqueIndex:idx_face_regions_identity,priority:3" json:"top"`
	Right     float64 `gorm:"column:box_right;not null;uniqueIndex:idx_face_regions_identity,priority:4" json:"right"`
	Bottom    float64 `gorm:"column:box_bottom;not null;uniqueIndex:idx_face_regions_identity,priority:5" json:"bottom"`
	Tag       string  `gorm:"not null;default:''" json:"tag"`
	CreatedAt int64   `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt int64   `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (FaceRegion) TableName() string {
	return "face_regions"
}

// Box returns the region's edges.
func (f FaceRegion) Box() Box {
	return Box{Left: f.Left, Top: f.Top, Right: f.Right, Bottom: f.Bottom}
}

// NewFaceRegion builds an untagged region for imageID.
func NewFaceRegion(imageID string, box Box) FaceRegion {
	return FaceRegion{
		ImageID: imageID,
		Left:    box.Left,
		Top:     box.Top,
		Right:   box.Right,
		Bottom:  box.Bottom,
	}
}
