package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/camden-git/facetagger/database"
	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/realtime"
	"github.com/camden-git/facetagger/repository"
)

// ResultStore owns the analysis and region tables and the read model built
// on top of them. Every committed write refreshes the read model.
type ResultStore struct {
	db        *gorm.DB
	analyses  *repository.AnalysisRepository
	regions   *repository.RegionRepository
	hub       *realtime.Hub
	sortOrder string
}

// NewResultStore creates a store on db. The read model is only pushed to
// subscribers while Run is active.
func NewResultStore(db *gorm.DB, sortOrder string) *ResultStore {
	if !database.IsValidSortOrder(sortOrder) {
		sortOrder = database.DefaultSortOrder
	}
	s := &ResultStore{
		db:        db,
		analyses:  repository.NewAnalysisRepository(db),
		regions:   repository.NewRegionRepository(db),
		sortOrder: sortOrder,
	}
	s.hub = realtime.NewHub(s.FaceImages)
	return s
}

// Run drives read model updates until ctx is done.
func (s *ResultStore) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Hub exposes the read model hub, e.g. for websocket streaming.
func (s *ResultStore) Hub() *realtime.Hub {
	return s.hub
}

// Lookup returns the analysis of imageID. A never analysed image is reported
// as (nil, false, nil).
func (s *ResultStore) Lookup(ctx context.Context, imageID string) (*models.ImageAnalysis, bool, error) {
	analysis, err := s.analyses.GetByImageID(ctx, imageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return analysis, true, nil
}

// InsertAnalysis stores analysis, replacing an earlier result for the same image.
func (s *ResultStore) InsertAnalysis(ctx context.Context, analysis *models.ImageAnalysis) error {
	if err := s.analyses.Upsert(ctx, analysis); err != nil {
		return err
	}
	s.hub.Notify()
	return nil
}

// InsertRegions stores regions in one batch. A region that already exists for
// the same image and box takes the new tag.
func (s *ResultStore) InsertRegions(ctx context.Context, regions []models.FaceRegion) error {
	if len(regions) == 0 {
		return nil
	}
	if err := s.regions.UpsertBatch(ctx, regions); err != nil {
		return err
	}
	s.hub.Notify()
	return nil
}

// RecordAnalysis stores an analysis and its regions atomically. When either
// write fails nothing is stored, so the image is analysed again next run.
func (s *ResultStore) RecordAnalysis(ctx context.Context, analysis *models.ImageAnalysis, regions []models.FaceRegion) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.analyses.WithTx(tx).Upsert(ctx, analysis); err != nil {
			return err
		}
		return s.regions.WithTx(tx).UpsertBatch(ctx, regions)
	})
	if err != nil {
		var perr *repository.PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		return &repository.PersistenceError{Op: "record analysis", ImageID: analysis.ImageID, Err: err}
	}
	s.hub.Notify()
	return nil
}

// UpdateRegionTag sets the tag of the region of imageID with exactly box. It
// reports false without error when no region matches.
func (s *ResultStore) UpdateRegionTag(ctx context.Context, imageID string, box models.Box, tag string) (bool, error) {
	matched, err := s.regions.UpdateTag(ctx, imageID, box, tag)
	if err != nil {
		return false, err
	}
	if matched {
		s.hub.Notify()
	}
	return matched, nil
}

// Subscribe returns a subscription whose first snapshot is the current read
// model, followed by a new snapshot after each committed write.
func (s *ResultStore) Subscribe(ctx context.Context) (*realtime.Subscription, error) {
	sub, err := s.hub.Subscribe(ctx)
	if err != nil {
		if errors.Is(err, realtime.ErrHubClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to subscribe to face images: %w", err)
	}
	return sub, nil
}

// FaceImages loads the read model: images with at least one face and their regions.
func (s *ResultStore) FaceImages(ctx context.Context) ([]models.DisplayImage, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, &repository.PersistenceError{Op: "load face images", Err: err}
	}
	images, err := database.ListFaceImages(ctx, sqlDB, s.sortOrder)
	if err != nil {
		return nil, &repository.PersistenceError{Op: "load face images", Err: err}
	}
	return images, nil
}

// ImageRegions returns the regions stored for one image.
func (s *ResultStore) ImageRegions(ctx context.Context, imageID string) ([]models.RegionView, error) {
	regions, err := s.regions.ListByImageID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	views := make([]models.RegionView, 0, len(regions))
	for _, r := range regions {
		views = append(views, models.RegionView{Box: r.Box(), Tag: r.Tag})
	}
	return views, nil
}

// Stats returns how many images were analysed and how many contain faces.
func (s *ResultStore) Stats(ctx context.Context) (analysed int64, withFaces int64, err error) {
	return s.analyses.Count(ctx)
}
