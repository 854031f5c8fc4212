package repository

import (
	"context"

	"github.com/camden-git/facetagger/models"
)

// AnalysisRepositoryInterface defines the methods for image analysis data operations
type AnalysisRepositoryInterface interface {
	GetByImageID(ctx context.Context, imageID string) (*models.ImageAnalysis, error)
	Upsert(ctx context.Context, analysis *models.ImageAnalysis) error
	Count(ctx context.Context) (total int64, withFaces int64, err error)
}

// RegionRepositoryInterface defines the methods for face region data operations
type RegionRepositoryInterface interface {
	UpsertBatch(ctx context.Context, regions []models.FaceRegion) error
	UpdateTag(ctx context.Context, imageID string, box models.Box, tag string) (bool, error)
	ListByImageID(ctx context.Context, imageID string) ([]models.FaceRegion, error)
}

var (
	_ AnalysisRepositoryInterface = (*AnalysisRepository)(nil)
	_ RegionRepositoryInterface   = (*RegionRepository)(nil)
)
