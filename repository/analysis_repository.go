package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/camden-git/facetagger/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalysisRepository handles database operations for ImageAnalysis entities
type AnalysisRepository struct {
	DB *gorm.DB
}

// NewAnalysisRepository creates a new instance of AnalysisRepository
func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *AnalysisRepository) WithTx(tx *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{DB: tx}
}

// GetByImageID retrieves the analysis of an image. gorm.ErrRecordNotFound is
// returned unwrapped when the image was never analysed.
func (r *AnalysisRepository) GetByImageID(ctx context.Context, imageID string) (*models.ImageAnalysis, error) {
	cleanID := filepath.ToSlash(imageID)
	var analysis models.ImageAnalysis
	err := r.DB.WithContext(ctx).Where("image_id = ?", cleanID).First(&analysis).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, newPersistenceError("get analysis", cleanID, err)
	}
	return &analysis, nil
}

// Upsert inserts the analysis or replaces the existing row for its image.
func (r *AnalysisRepository) Upsert(ctx context.Context, analysis *models.ImageAnalysis) error {
	if analysis.ImageID == "" {
		return newPersistenceError("upsert analysis", "", fmt.Errorf("image id is required"))
	}
	analysis.ImageID = filepath.ToSlash(analysis.ImageID)
	if analysis.AnalyzedAt == 0 {
		analysis.AnalyzedAt = time.Now().Unix()
	}

	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}},
		UpdateAll: true,
	}).Create(analysis).Error
	if err != nil {
		return newPersistenceError("upsert analysis", analysis.ImageID, err)
	}
	return nil
}

// Count returns the number of analysed images and how many of them contain a face.
func (r *AnalysisRepository) Count(ctx context.Context) (total int64, withFaces int64, err error) {
	db := r.DB.WithContext(ctx).Model(&models.ImageAnalysis{})
	if err := db.Count(&total).Error; err != nil {
		return 0, 0, newPersistenceError("count analyses", "", err)
	}
	err = r.DB.WithContext(ctx).Model(&models.ImageAnalysis{}).Where("has_face = ?", true).Count(&withFaces).Error
	if err != nil {
		return 0, 0, newPersistenceError("count analyses", "", err)
	}
	return total, withFaces, nil
}
