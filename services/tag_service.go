package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/camden-git/facetagger/models"
)

// ErrInvalidTagRequest is returned for tag updates that cannot address a region.
var ErrInvalidTagRequest = errors.New("invalid tag request")

// RegionTagger is the store operation the tag service depends on.
type RegionTagger interface {
	UpdateRegionTag(ctx context.Context, imageID string, box models.Box, tag string) (bool, error)
}

// TagService applies user tags to detected face regions
type TagService struct {
	store RegionTagger
}

// NewTagService creates a new tag service
func NewTagService(store RegionTagger) *TagService {
	return &TagService{store: store}
}

// UpdateTag sets tag on the region of imageID with exactly box. The tag is
// stored verbatim and an empty tag clears it. Updating a region that does not
// exist is not an error; matched reports whether one was changed.
func (s *TagService) UpdateTag(ctx context.Context, imageID string, box models.Box, tag string) (matched bool, err error) {
	if strings.TrimSpace(imageID) == "" {
		return false, fmt.Errorf("%w: image id is required", ErrInvalidTagRequest)
	}
	if err := box.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidTagRequest, err)
	}
	return s.store.UpdateRegionTag(ctx, imageID, box, tag)
}
