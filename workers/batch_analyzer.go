package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/models"
)

// Outcome describes what happened to one image in a batch run.
type Outcome string

const (
	OutcomeSkipped           Outcome = "skipped"
	OutcomeNoFace            Outcome = "no_face"
	OutcomeFaces             Outcome = "faces"
	OutcomeDetectionFailed   Outcome = "detection_failed"
	OutcomePersistenceFailed Outcome = "persistence_failed"
)

// AnalysisStore is the part of the result store a batch run writes to.
type AnalysisStore interface {
	Lookup(ctx context.Context, imageID string) (*models.ImageAnalysis, bool, error)
	RecordAnalysis(ctx context.Context, analysis *models.ImageAnalysis, regions []models.FaceRegion) error
}

// ImageOutcome is reported for every image a run handled.
type ImageOutcome struct {
	ImageID string
	Outcome Outcome
	Faces   int
	Err     error
}

// ImageFailure is an image that could not be analysed in this run. It is
// retried by the next run.
type ImageFailure struct {
	ImageID string  `json:"image_id"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"error"`
	Err     error   `json:"-"`
}

// BatchReport summarises a batch run. NotProcessed counts images that were
// never started because the run was cancelled.
type BatchReport struct {
	RunID               uuid.UUID      `json:"run_id"`
	Total               int            `json:"total"`
	Skipped             int            `json:"skipped"`
	Analyzed            int            `json:"analyzed"`
	WithFaces           int            `json:"with_faces"`
	DetectionFailures   int            `json:"detection_failures"`
	PersistenceFailures int            `json:"persistence_failures"`
	NotProcessed        int            `json:"not_processed"`
	Failures            []ImageFailure `json:"failures"`
	Duration            time.Duration  `json:"duration"`
}

// Failed returns the number of images that failed in this run.
func (r BatchReport) Failed() int {
	return r.DetectionFailures + r.PersistenceFailures
}

// Options controls how a batch is split and how much of it runs at once.
type Options struct {
	GroupSize         int // images per group, processed one after another
	MaxInFlightGroups int // groups running at the same time
}

// BatchAnalyzer runs face detection over a list of images and stores the
// results. Images that already have a stored analysis are skipped, so a run
// can be repeated after a crash or cancellation.
type BatchAnalyzer struct {
	store    AnalysisStore
	detector media.Detector
	opts     Options
	metrics  *BatchMetrics

	// OnImageDone is called after each image. It is called from several
	// goroutines at once.
	OnImageDone func(ImageOutcome)
}

// NewBatchAnalyzer creates a batch analyzer. metrics may be nil.
func NewBatchAnalyzer(store AnalysisStore, detector media.Detector, opts Options, metrics *BatchMetrics) *BatchAnalyzer {
	if opts.GroupSize <= 0 {
		opts.GroupSize = 20
	}
	if opts.MaxInFlightGroups <= 0 {
		opts.MaxInFlightGroups = 5
	}
	return &BatchAnalyzer{
		store:    store,
		detector: detector,
		opts:     opts,
		metrics:  metrics,
	}
}

// Run analyses imageIDs. Groups are admitted in order; when the window of
// in-flight groups is full the oldest admitted group is awaited before the
// next one starts. Per-image failures are recorded in the report, not
// returned. Once ctx is done no group is admitted and running groups stop
// before their next image; an image already started is finished and stored.
// Run then returns the report together with ctx.Err().
func (b *BatchAnalyzer) Run(ctx context.Context, imageIDs []string) (BatchReport, error) {
	start := time.Now()
	ids := uniqueIDs(imageIDs)
	runID := uuid.New()
	c := &collector{report: BatchReport{RunID: runID, Total: len(ids)}}

	groups := partition(ids, b.opts.GroupSize)
	log.Printf("batch %s: analysing %d image(s) in %d group(s), %d in flight", runID, len(ids), len(groups), b.opts.MaxInFlightGroups)

	window := make([]chan struct{}, 0, b.opts.MaxInFlightGroups)
	for i, group := range groups {
		if len(window) == b.opts.MaxInFlightGroups {
			<-window[0]
			window = window[1:]
		}
		if ctx.Err() != nil {
			log.Printf("batch %s: cancelled, not admitting groups %d..%d", runID, i+1, len(groups))
			break
		}

		done := make(chan struct{})
		window = append(window, done)
		b.metrics.groupStarted()
		go func(groupIndex int, group []string) {
			defer close(done)
			defer b.metrics.groupFinished()
			b.runGroup(ctx, groupIndex, group, c)
		}(i, group)
	}
	for _, done := range window {
		<-done
	}

	report := c.finish(time.Since(start))
	b.metrics.observeRun(report.Duration)
	log.Printf("batch %s: done in %s: %d analysed (%d with faces), %d skipped, %d failed, %d not processed",
		runID, report.Duration.Round(time.Millisecond), report.Analyzed, report.WithFaces, report.Skipped, report.Failed(), report.NotProcessed)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (b *BatchAnalyzer) runGroup(ctx context.Context, groupIndex int, group []string, c *collector) {
	for _, imageID := range group {
		if ctx.Err() != nil {
			return
		}
		// a started image always runs to completion so its result is kept
		outcome := b.processImage(context.WithoutCancel(ctx), imageID)
		c.add(outcome)
		b.metrics.recordOutcome(outcome.Outcome)
		if b.OnImageDone != nil {
			b.OnImageDone(outcome)
		}
	}
}

func (b *BatchAnalyzer) processImage(ctx context.Context, imageID string) ImageOutcome {
	_, found, err := b.store.Lookup(ctx, imageID)
	if err != nil {
		log.Printf("batch: lookup failed for %s: %v", imageID, err)
		return ImageOutcome{ImageID: imageID, Outcome: OutcomePersistenceFailed, Err: err}
	}
	if found {
		return ImageOutcome{ImageID: imageID, Outcome: OutcomeSkipped}
	}

	detectStart := time.Now()
	detection, err := b.detector.Detect(ctx, imageID)
	b.metrics.observeDetection(time.Since(detectStart))
	if err == nil {
		err = validateBoxes(detection.Boxes)
	}
	if err != nil {
		var derr *media.DetectionError
		if !errors.As(err, &derr) {
			err = &media.DetectionError{ImageID: imageID, Err: err}
		}
		log.Printf("batch: %v", err)
		return ImageOutcome{ImageID: imageID, Outcome: OutcomeDetectionFailed, Err: err}
	}

	analysis := &models.ImageAnalysis{
		ImageID:         imageID,
		HasFace:         detection.HasFace(),
		DetectionWidth:  detection.Width,
		DetectionHeight: detection.Height,
		TakenAt:         detection.TakenAt,
		AnalyzedAt:      time.Now().Unix(),
	}
	regions := make([]models.FaceRegion, 0, len(detection.Boxes))
	for _, box := range detection.Boxes {
		regions = append(regions, models.NewFaceRegion(imageID, box))
	}

	if err := b.store.RecordAnalysis(ctx, analysis, regions); err != nil {
		log.Printf("batch: failed to store analysis for %s: %v", imageID, err)
		return ImageOutcome{ImageID: imageID, Outcome: OutcomePersistenceFailed, Err: err}
	}

	if analysis.HasFace {
		return ImageOutcome{ImageID: imageID, Outcome: OutcomeFaces, Faces: len(regions)}
	}
	return ImageOutcome{ImageID: imageID, Outcome: OutcomeNoFace}
}

func validateBoxes(boxes []models.Box) error {
	for _, box := range boxes {
		if err := box.Validate(); err != nil {
			return fmt.Errorf("detector returned an invalid region: %w", err)
		}
	}
	return nil
}

// collector accumulates outcomes from concurrently running groups.
type collector struct {
	mu     sync.Mutex
	report BatchReport
	seen   int
}

func (c *collector) add(o ImageOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen++
	switch o.Outcome {
	case OutcomeSkipped:
		c.report.Skipped++
	case OutcomeNoFace:
		c.report.Analyzed++
	case OutcomeFaces:
		c.report.Analyzed++
		c.report.WithFaces++
	case OutcomeDetectionFailed:
		c.report.DetectionFailures++
	case OutcomePersistenceFailed:
		c.report.PersistenceFailures++
	}
	if o.Err != nil {
		c.report.Failures = append(c.report.Failures, ImageFailure{
			ImageID: o.ImageID,
			Outcome: o.Outcome,
			Message: o.Err.Error(),
			Err:     o.Err,
		})
	}
}

func (c *collector) finish(d time.Duration) BatchReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := c.report
	report.NotProcessed = report.Total - c.seen
	report.Duration = d
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].ImageID < report.Failures[j].ImageID
	})
	return report
}

// partition splits ids into consecutive groups of at most size ids.
func partition(ids []string, size int) [][]string {
	groups := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		groups = append(groups, ids[start:end])
	}
	return groups
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
