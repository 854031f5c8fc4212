package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var faceBox = models.Box{Left: 10, Top: 10, Right: 50, Bottom: 50}

type memoryStore struct {
	mu        sync.Mutex
	analyses  map[string]models.ImageAnalysis
	regions   map[string][]models.FaceRegion
	failWrite map[string]bool
	lookups   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		analyses:  make(map[string]models.ImageAnalysis),
		regions:   make(map[string][]models.FaceRegion),
		failWrite: make(map[string]bool),
	}
}

func (s *memoryStore) Lookup(ctx context.Context, imageID string) (*models.ImageAnalysis, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	a, ok := s.analyses[imageID]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (s *memoryStore) RecordAnalysis(ctx context.Context, analysis *models.ImageAnalysis, regions []models.FaceRegion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite[analysis.ImageID] {
		return &repository.PersistenceError{Op: "record analysis", ImageID: analysis.ImageID, Err: errors.New("disk full")}
	}
	s.analyses[analysis.ImageID] = *analysis
	s.regions[analysis.ImageID] = append([]models.FaceRegion(nil), regions...)
	return nil
}

func (s *memoryStore) analysis(imageID string) (models.ImageAnalysis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[imageID]
	return a, ok
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyses)
}

// fakeDetector finds a face in every image listed in faces and fails for
// images listed in fail.
type fakeDetector struct {
	faces map[string]bool
	fail  map[string]bool
	delay time.Duration
	gate  chan struct{}

	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int
}

func (d *fakeDetector) Detect(ctx context.Context, imageID string) (media.Detection, error) {
	d.mu.Lock()
	d.calls = append(d.calls, imageID)
	d.active++
	d.maxActive = max(d.maxActive, d.active)
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if d.gate != nil {
		<-d.gate
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.fail[imageID] {
		return media.Detection{}, errors.New("model crashed")
	}
	det := media.Detection{Width: 512, Height: 384}
	if d.faces[imageID] {
		det.Boxes = []models.Box{faceBox}
	}
	return det, nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDetector) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func imageIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("/photos/img%03d.jpg", i)
	}
	return ids
}

func TestRunClassifiesAndStores(t *testing.T) {
	store := newMemoryStore()
	det := &fakeDetector{faces: map[string]bool{"/p/a.jpg": true}}
	analyzer := NewBatchAnalyzer(store, det, Options{}, nil)

	report, err := analyzer.Run(context.Background(), []string{"/p/a.jpg", "/p/b.jpg"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Analyzed)
	assert.Equal(t, 1, report.WithFaces)
	assert.Zero(t, report.Failed())
	assert.Zero(t, report.NotProcessed)

	a, ok := store.analysis("/p/a.jpg")
	require.True(t, ok)
	assert.True(t, a.HasFace)
	assert.Equal(t, 512, a.DetectionWidth)
	require.Len(t, store.regions["/p/a.jpg"], 1)
	assert.Equal(t, faceBox, store.regions["/p/a.jpg"][0].Box())
	assert.Equal(t, "", store.regions["/p/a.jpg"][0].Tag)

	b, ok := store.analysis("/p/b.jpg")
	require.True(t, ok)
	assert.False(t, b.HasFace)
	assert.Empty(t, store.regions["/p/b.jpg"])
}

func TestRunEmptyInput(t *testing.T) {
	det := &fakeDetector{}
	report, err := NewBatchAnalyzer(newMemoryStore(), det, Options{}, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Zero(t, det.callCount())
}

func TestSecondRunDetectsNothing(t *testing.T) {
	store := newMemoryStore()
	det := &fakeDetector{faces: map[string]bool{"/photos/img001.jpg": true}}
	analyzer := NewBatchAnalyzer(store, det, Options{GroupSize: 3, MaxInFlightGroups: 2}, nil)
	ids := imageIDs(10)

	_, err := analyzer.Run(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, 10, det.callCount())

	report, err := analyzer.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 10, det.callCount(), "no detector calls on a repeated run")
	assert.Equal(t, 10, report.Skipped)
	assert.Zero(t, report.Analyzed)
}

func TestRerunOnlyAnalysesNewImages(t *testing.T) {
	store := newMemoryStore()
	det := &fakeDetector{faces: map[string]bool{"/p/A.jpg": true}}
	analyzer := NewBatchAnalyzer(store, det, Options{}, nil)

	_, err := analyzer.Run(context.Background(), []string{"/p/A.jpg", "/p/B.jpg"})
	require.NoError(t, err)

	det.mu.Lock()
	det.calls = nil
	det.mu.Unlock()

	report, err := analyzer.Run(context.Background(), []string{"/p/A.jpg", "/p/B.jpg", "/p/C.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/C.jpg"}, det.calls)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Analyzed)
}

func TestDuplicateIDsAnalysedOnce(t *testing.T) {
	det := &fakeDetector{}
	report, err := NewBatchAnalyzer(newMemoryStore(), det, Options{GroupSize: 1}, nil).
		Run(context.Background(), []string{"/p/a.jpg", "/p/a.jpg", "/p/b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, det.callCount())
}

func TestRunBoundsConcurrency(t *testing.T) {
	det := &fakeDetector{delay: 2 * time.Millisecond}
	analyzer := NewBatchAnalyzer(newMemoryStore(), det, Options{GroupSize: 20, MaxInFlightGroups: 5}, nil)

	report, err := analyzer.Run(context.Background(), imageIDs(250))
	require.NoError(t, err)
	assert.Equal(t, 250, report.Analyzed)
	assert.Equal(t, 250, det.callCount())
	assert.LessOrEqual(t, det.maxActive, 5)
	assert.Greater(t, det.maxActive, 1)
}

func TestSingleGroupWindowIsSequential(t *testing.T) {
	det := &fakeDetector{}
	ids := imageIDs(12)
	_, err := NewBatchAnalyzer(newMemoryStore(), det, Options{GroupSize: 5, MaxInFlightGroups: 1}, nil).
		Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, det.maxActive)
	assert.Equal(t, ids, det.calls)
}

func TestDetectionFailureIsRetriedNextRun(t *testing.T) {
	store := newMemoryStore()
	det := &fakeDetector{fail: map[string]bool{"/p/bad.jpg": true}}
	analyzer := NewBatchAnalyzer(store, det, Options{GroupSize: 2}, nil)
	ids := []string{"/p/a.jpg", "/p/bad.jpg", "/p/c.jpg"}

	report, err := analyzer.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DetectionFailures)
	assert.Equal(t, 2, report.Analyzed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "/p/bad.jpg", report.Failures[0].ImageID)
	var derr *media.DetectionError
	assert.ErrorAs(t, report.Failures[0].Err, &derr)

	_, stored := store.analysis("/p/bad.jpg")
	assert.False(t, stored, "a failed detection must not be recorded")

	det.fail = nil
	report, err = analyzer.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Analyzed)
	assert.Equal(t, 2, report.Skipped)
}

func TestInvalidDetectorBoxIsDetectionFailure(t *testing.T) {
	store := newMemoryStore()
	det := detectorFunc(func(ctx context.Context, imageID string) (media.Detection, error) {
		return media.Detection{Boxes: []models.Box{{Left: 5, Right: 1, Bottom: 1}}}, nil
	})

	report, err := NewBatchAnalyzer(store, det, Options{}, nil).Run(context.Background(), []string{"/p/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DetectionFailures)
	assert.Zero(t, store.count())
}

func TestPersistenceFailureIsContained(t *testing.T) {
	store := newMemoryStore()
	store.failWrite["/p/b.jpg"] = true
	det := &fakeDetector{faces: map[string]bool{"/p/b.jpg": true}}

	report, err := NewBatchAnalyzer(store, det, Options{GroupSize: 5}, nil).
		Run(context.Background(), []string{"/p/a.jpg", "/p/b.jpg", "/p/c.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.PersistenceFailures)
	assert.Equal(t, 2, report.Analyzed)
	require.Len(t, report.Failures, 1)
	var perr *repository.PersistenceError
	assert.ErrorAs(t, report.Failures[0].Err, &perr)
	assert.Equal(t, OutcomePersistenceFailed, report.Failures[0].Outcome)

	_, ok := store.analysis("/p/c.jpg")
	assert.True(t, ok, "images after the failed one are still analysed")
}

func TestCancellationStopsAdmissionAndKeepsStartedImages(t *testing.T) {
	store := newMemoryStore()
	det := &fakeDetector{gate: make(chan struct{})}
	analyzer := NewBatchAnalyzer(store, det, Options{GroupSize: 20, MaxInFlightGroups: 5}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		report BatchReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := analyzer.Run(ctx, imageIDs(200))
		done <- result{report, err}
	}()

	require.Eventually(t, func() bool { return det.activeCount() == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	close(det.gate)

	res := <-done
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, 5, det.callCount())
	assert.Equal(t, 5, res.report.Analyzed)
	assert.Equal(t, 195, res.report.NotProcessed)
	assert.Equal(t, 5, store.count(), "detections in progress at cancellation are stored")
}

func TestOnImageDoneAndMetrics(t *testing.T) {
	store := newMemoryStore()
	store.analyses["/p/old.jpg"] = models.ImageAnalysis{ImageID: "/p/old.jpg"}
	det := &fakeDetector{
		faces: map[string]bool{"/p/face.jpg": true},
		fail:  map[string]bool{"/p/bad.jpg": true},
	}
	registry := prometheus.NewRegistry()
	metrics, err := NewBatchMetrics(registry)
	require.NoError(t, err)

	analyzer := NewBatchAnalyzer(store, det, Options{GroupSize: 2, MaxInFlightGroups: 2}, metrics)
	var mu sync.Mutex
	seen := map[string]Outcome{}
	var calls atomic.Int32
	analyzer.OnImageDone = func(o ImageOutcome) {
		calls.Add(1)
		mu.Lock()
		seen[o.ImageID] = o.Outcome
		mu.Unlock()
	}

	_, err = analyzer.Run(context.Background(), []string{"/p/old.jpg", "/p/face.jpg", "/p/none.jpg", "/p/bad.jpg"})
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, map[string]Outcome{
		"/p/old.jpg":  OutcomeSkipped,
		"/p/face.jpg": OutcomeFaces,
		"/p/none.jpg": OutcomeNoFace,
		"/p/bad.jpg":  OutcomeDetectionFailed,
	}, seen)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ImagesProcessed.WithLabelValues(string(OutcomeSkipped))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ImagesProcessed.WithLabelValues(string(OutcomeFaces))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ImagesProcessed.WithLabelValues(string(OutcomeDetectionFailed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.GroupsInFlight))

	_, err = NewBatchMetrics(registry)
	assert.Error(t, err, "registering twice on one registry fails")
}

func TestPartition(t *testing.T) {
	groups := partition(imageIDs(45), 20)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 20)
	assert.Len(t, groups[2], 5)
	assert.Empty(t, partition(nil, 20))
}

type detectorFunc func(ctx context.Context, imageID string) (media.Detection, error)

func (f detectorFunc) Detect(ctx context.Context, imageID string) (media.Detection, error) {
	return f(ctx, imageID)
}
