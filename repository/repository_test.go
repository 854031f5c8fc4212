package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/facetagger/database"
	"github.com/camden-git/facetagger/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), "silent")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestAnalysisUpsertReplacesRow(t *testing.T) {
	ctx := context.Background()
	repo := NewAnalysisRepository(openTestDB(t))

	_, err := repo.GetByImageID(ctx, "/photos/a.jpg")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	require.NoError(t, repo.Upsert(ctx, &models.ImageAnalysis{ImageID: "/photos/a.jpg", HasFace: false}))
	require.NoError(t, repo.Upsert(ctx, &models.ImageAnalysis{ImageID: "/photos/a.jpg", HasFace: true, DetectionWidth: 512}))

	got, err := repo.GetByImageID(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	assert.True(t, got.HasFace)
	assert.Equal(t, 512, got.DetectionWidth)
	assert.NotZero(t, got.AnalyzedAt)

	total, withFaces, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), withFaces)
}

func TestAnalysisUpsertRequiresImageID(t *testing.T) {
	repo := NewAnalysisRepository(openTestDB(t))

	err := repo.Upsert(context.Background(), &models.ImageAnalysis{})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "upsert analysis", perr.Op)
}

func TestRegionUpsertKeepsSingleRowPerIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewRegionRepository(openTestDB(t))
	box := models.Box{Left: 10, Top: 10, Right: 50, Bottom: 50}

	first := models.NewFaceRegion("/photos/a.jpg", box)
	first.Tag = "Alice"
	require.NoError(t, repo.UpsertBatch(ctx, []models.FaceRegion{first}))

	second := models.NewFaceRegion("/photos/a.jpg", box)
	second.Tag = "Bob"
	require.NoError(t, repo.UpsertBatch(ctx, []models.FaceRegion{second}))

	regions, err := repo.ListByImageID(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Bob", regions[0].Tag)
}

func TestRegionUpsertDeduplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewRegionRepository(openTestDB(t))
	box := models.Box{Left: 1, Top: 2, Right: 3, Bottom: 4}

	a := models.NewFaceRegion("/photos/a.jpg", box)
	b := models.NewFaceRegion("/photos/a.jpg", box)
	b.Tag = "later"
	other := models.NewFaceRegion("/photos/a.jpg", models.Box{Left: 5, Top: 2, Right: 9, Bottom: 4})

	require.NoError(t, repo.UpsertBatch(ctx, []models.FaceRegion{a, b, other}))

	regions, err := repo.ListByImageID(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "later", regions[0].Tag)
	assert.Equal(t, "", regions[1].Tag)
}

func TestRegionUpsertEmptyIsNoop(t *testing.T) {
	repo := NewRegionRepository(openTestDB(t))
	assert.NoError(t, repo.UpsertBatch(context.Background(), nil))
}

func TestRegionUpsertRejectsInvalidBox(t *testing.T) {
	repo := NewRegionRepository(openTestDB(t))
	bad := models.NewFaceRegion("/photos/a.jpg", models.Box{Left: 10, Top: 0, Right: 5, Bottom: 5})

	err := repo.UpsertBatch(context.Background(), []models.FaceRegion{bad})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/photos/a.jpg", perr.ImageID)
}

func TestRegionUpdateTagTargetsExactBox(t *testing.T) {
	ctx := context.Background()
	repo := NewRegionRepository(openTestDB(t))
	left := models.Box{Left: 10, Top: 10, Right: 50, Bottom: 50}
	right := models.Box{Left: 60, Top: 10, Right: 90, Bottom: 50}
	require.NoError(t, repo.UpsertBatch(ctx, []models.FaceRegion{
		models.NewFaceRegion("/photos/a.jpg", left),
		models.NewFaceRegion("/photos/a.jpg", right),
		models.NewFaceRegion("/photos/b.jpg", left),
	}))

	matched, err := repo.UpdateTag(ctx, "/photos/a.jpg", left, "Alice")
	require.NoError(t, err)
	assert.True(t, matched)

	regions, err := repo.ListByImageID(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "Alice", regions[0].Tag)
	assert.Equal(t, "", regions[1].Tag)

	others, err := repo.ListByImageID(ctx, "/photos/b.jpg")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "", others[0].Tag)

	matched, err = repo.UpdateTag(ctx, "/photos/a.jpg", models.Box{Left: 10, Top: 10, Right: 50, Bottom: 51}, "Nobody")
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = repo.UpdateTag(ctx, "/photos/a.jpg", left, "")
	require.NoError(t, err)
	assert.True(t, matched)
	regions, err = repo.ListByImageID(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "", regions[0].Tag)
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := newPersistenceError("upsert regions", "/photos/a.jpg", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence: upsert regions failed for /photos/a.jpg: disk full", err.Error())
}
