package services

import (
	"context"
	"log"
	"sync"

	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/realtime"
)

// Session is one user's view of the read model: the latest list of images
// with faces plus the image currently selected for tagging.
type Session struct {
	tags *TagService

	mu       sync.Mutex
	images   []models.DisplayImage
	selected *models.DisplayImage
	updates  chan struct{}

	pending sync.WaitGroup
}

// NewSession creates a session that writes tag changes through tags.
func NewSession(tags *TagService) *Session {
	return &Session{
		tags:    tags,
		updates: make(chan struct{}, 1),
	}
}

// Follow applies snapshots from sub until it is closed or ctx is done.
func (s *Session) Follow(ctx context.Context, sub *realtime.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			s.Apply(snap.Images)
		}
	}
}

// Apply replaces the image list. The first image is selected when nothing
// is selected yet.
func (s *Session) Apply(images []models.DisplayImage) {
	s.mu.Lock()
	s.images = images
	if s.selected == nil && len(images) > 0 {
		first := images[0]
		s.selected = &first
	}
	s.mu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updated signals after every Apply. Signals are coalesced.
func (s *Session) Updated() <-chan struct{} {
	return s.updates
}

// Images returns the current image list with the selected image flagged.
func (s *Session) Images() []models.DisplayImage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DisplayImage, len(s.images))
	for i, img := range s.images {
		img.Selected = s.selected != nil && s.selected.ImageID == img.ImageID
		out[i] = img
	}
	return out
}

// Select makes imageID the selected image. It reports false if the image is
// not in the current list.
func (s *Session) Select(imageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, img := range s.images {
		if img.ImageID == imageID {
			selected := img
			s.selected = &selected
			return true
		}
	}
	return false
}

// Selected returns the selected image.
func (s *Session) Selected() (models.DisplayImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil {
		return models.DisplayImage{}, false
	}
	img := *s.selected
	img.Selected = true
	return img, true
}

// OnTagUpdate changes the tag of the selected image's region with box right
// away and persists it in the background. A failed write is logged and the
// local change is kept.
func (s *Session) OnTagUpdate(ctx context.Context, tag string, box models.Box) {
	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return
	}
	updated := s.selected.WithTag(box, tag)
	s.selected = &updated
	imageID := updated.ImageID
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		matched, err := s.tags.UpdateTag(context.WithoutCancel(ctx), imageID, box, tag)
		if err != nil {
			log.Printf("session: failed to save tag for %s %s: %v", imageID, box, err)
			return
		}
		if !matched {
			log.Printf("session: no region %s on %s to tag", box, imageID)
		}
	}()
}

// Wait blocks until all background tag writes finished.
func (s *Session) Wait() {
	s.pending.Wait()
}
