package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/camden-git/facetagger/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var regionIdentityColumns = []clause.Column{
	{Name: "image_id"},
	{Name: "box_left"},
	{Name: "box_top"},
	{Name: "box_right"},
	{Name: "box_bottom"},
}

// RegionRepository handles database operations for FaceRegion entities
type RegionRepository struct {
	DB *gorm.DB
}

// NewRegionRepository creates a new instance of RegionRepository
func NewRegionRepository(db *gorm.DB) *RegionRepository {
	return &RegionRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *RegionRepository) WithTx(tx *gorm.DB) *RegionRepository {
	return &RegionRepository{DB: tx}
}

// UpsertBatch writes all regions in one statement. A region whose image and
// box already exist replaces the stored tag. Within the batch the last
// occurrence of an identity wins.
func (r *RegionRepository) UpsertBatch(ctx context.Context, regions []models.FaceRegion) error {
	if len(regions) == 0 {
		return nil
	}

	now := time.Now().Unix()
	batch := make([]models.FaceRegion, 0, len(regions))
	positions := make(map[regionKey]int, len(regions))
	for _, region := range regions {
		region.ID = 0
		region.ImageID = filepath.ToSlash(region.ImageID)
		if err := region.Box().Validate(); err != nil {
			return newPersistenceError("upsert regions", region.ImageID, err)
		}
		if region.CreatedAt == 0 {
			region.CreatedAt = now
		}
		region.UpdatedAt = now

		key := regionKey{imageID: region.ImageID, box: region.Box()}
		if i, ok := positions[key]; ok {
			batch[i] = region
			continue
		}
		positions[key] = len(batch)
		batch = append(batch, region)
	}

	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   regionIdentityColumns,
		DoUpdates: clause.AssignmentColumns([]string{"tag", "updated_at"}),
	}).Create(&batch).Error
	if err != nil {
		return newPersistenceError("upsert regions", batch[0].ImageID, fmt.Errorf("failed to write %d regions: %w", len(batch), err))
	}
	return nil
}

// UpdateTag sets the tag of the region matching imageID and all four box
// edges exactly. It reports whether a region matched.
func (r *RegionRepository) UpdateTag(ctx context.Context, imageID string, box models.Box, tag string) (bool, error) {
	cleanID := filepath.ToSlash(imageID)
	result := r.DB.WithContext(ctx).Model(&models.FaceRegion{}).
		Where("image_id = ? AND box_left = ? AND box_top = ? AND box_right = ? AND box_bottom = ?",
			cleanID, box.Left, box.Top, box.Right, box.Bottom).
		Updates(map[string]interface{}{
			"tag":        tag,
			"updated_at": time.Now().Unix(),
		})
	if result.Error != nil {
		return false, newPersistenceError("update tag", cleanID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByImageID retrieves the regions of an image in insertion order.
func (r *RegionRepository) ListByImageID(ctx context.Context, imageID string) ([]models.FaceRegion, error) {
	cleanID := filepath.ToSlash(imageID)
	var regions []models.FaceRegion
	err := r.DB.WithContext(ctx).Where("image_id = ?", cleanID).Order("id ASC").Find(&regions).Error
	if err != nil {
		return nil, newPersistenceError("list regions", cleanID, err)
	}
	return regions, nil
}

type regionKey struct {
	imageID string
	box     models.Box
}
