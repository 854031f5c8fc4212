package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/facetagger/models"
)

type blockingTagger struct {
	mu      sync.Mutex
	release chan struct{}
	tags    []string
	err     error
}

func (b *blockingTagger) UpdateRegionTag(ctx context.Context, imageID string, box models.Box, tag string) (bool, error) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags = append(b.tags, tag)
	return true, b.err
}

var (
	leftBox  = models.Box{Left: 10, Top: 10, Right: 50, Bottom: 50}
	rightBox = models.Box{Left: 60, Top: 10, Right: 90, Bottom: 50}
)

func sessionImages() []models.DisplayImage {
	return []models.DisplayImage{
		{ImageID: "/p/a.jpg", Regions: []models.RegionView{{Box: leftBox}, {Box: rightBox}}},
		{ImageID: "/p/b.jpg", Regions: []models.RegionView{{Box: leftBox}}},
	}
}

func TestSessionSelectsFirstImage(t *testing.T) {
	s := NewSession(NewTagService(&blockingTagger{}))

	_, ok := s.Selected()
	assert.False(t, ok)

	s.Apply(sessionImages())
	selected, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "/p/a.jpg", selected.ImageID)

	images := s.Images()
	assert.True(t, images[0].Selected)
	assert.False(t, images[1].Selected)

	assert.True(t, s.Select("/p/b.jpg"))
	assert.False(t, s.Select("/p/missing.jpg"))
	s.Apply(sessionImages())
	selected, _ = s.Selected()
	assert.Equal(t, "/p/b.jpg", selected.ImageID, "a new snapshot keeps the selection")
}

func TestSessionOptimisticTagUpdate(t *testing.T) {
	tagger := &blockingTagger{release: make(chan struct{})}
	s := NewSession(NewTagService(tagger))
	s.Apply(sessionImages())

	s.OnTagUpdate(context.Background(), "Alice", leftBox)

	// visible before the write completed
	selected, ok := s.Selected()
	require.True(t, ok)
	r, _ := selected.Region(leftBox)
	assert.Equal(t, "Alice", r.Tag)
	r, _ = selected.Region(rightBox)
	assert.Equal(t, "", r.Tag)

	close(tagger.release)
	s.Wait()
	assert.Equal(t, []string{"Alice"}, tagger.tags)
}

func TestSessionKeepsLocalTagWhenWriteFails(t *testing.T) {
	tagger := &blockingTagger{release: make(chan struct{}), err: errors.New("disk full")}
	close(tagger.release)
	s := NewSession(NewTagService(tagger))
	s.Apply(sessionImages())

	s.OnTagUpdate(context.Background(), "Bob", rightBox)
	s.Wait()

	selected, _ := s.Selected()
	r, _ := selected.Region(rightBox)
	assert.Equal(t, "Bob", r.Tag)
}

func TestSessionTagUpdateWithoutSelection(t *testing.T) {
	tagger := &blockingTagger{release: make(chan struct{})}
	s := NewSession(NewTagService(tagger))

	s.OnTagUpdate(context.Background(), "Alice", leftBox)
	s.Wait()
	assert.Empty(t, tagger.tags)
}

func TestSessionFollowsStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.RecordAnalysis(ctx,
		&models.ImageAnalysis{ImageID: "/p/a.jpg", HasFace: true},
		[]models.FaceRegion{models.NewFaceRegion("/p/a.jpg", leftBox)}))

	sub, err := store.Subscribe(ctx)
	require.NoError(t, err)

	s := NewSession(NewTagService(store))
	followCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		s.Follow(followCtx, sub)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
		sub.Close()
	}()

	<-s.Updated()
	selected, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "/p/a.jpg", selected.ImageID)

	s.OnTagUpdate(ctx, "Alice", leftBox)
	s.Wait()

	images, err := store.FaceImages(ctx)
	require.NoError(t, err)
	r, _ := images[0].Region(leftBox)
	assert.Equal(t, "Alice", r.Tag)
}
