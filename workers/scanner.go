package workers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/camden-git/facetagger/media"
)

// ErrScanInProgress is returned when a scan is requested while one is running.
var ErrScanInProgress = errors.New("scan already in progress")

// ScanStatus describes the running scan, if any, and the last finished one.
type ScanStatus struct {
	Running    bool         `json:"running"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	LastReport *BatchReport `json:"last_report,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
}

// Scanner enumerates a directory and analyses its images. Only one scan runs
// at a time.
type Scanner struct {
	source   media.ImageSource
	analyzer *BatchAnalyzer
	dir      string

	mu         sync.Mutex
	running    bool
	startedAt  time.Time
	lastReport *BatchReport
	lastErr    error
	wg         sync.WaitGroup
}

func NewScanner(source media.ImageSource, analyzer *BatchAnalyzer, dir string) *Scanner {
	return &Scanner{source: source, analyzer: analyzer, dir: dir}
}

// Scan runs a complete scan and waits for it. Enumeration failures are
// returned as *media.SourceEnumerationError and no image is analysed.
func (s *Scanner) Scan(ctx context.Context) (BatchReport, error) {
	if !s.begin() {
		return BatchReport{}, ErrScanInProgress
	}
	report, err := s.run(ctx)
	s.end(report, err)
	return report, err
}

// Start runs a scan in the background. ctx bounds the scan, not the call.
func (s *Scanner) Start(ctx context.Context) error {
	if !s.begin() {
		return ErrScanInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.run(ctx)
		if err != nil {
			log.Printf("scanner: scan of %s ended with error: %v", s.dir, err)
		}
		s.end(report, err)
	}()
	return nil
}

// Wait blocks until a scan started with Start has finished.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

// Status returns the current scan state.
func (s *Scanner) Status() ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ScanStatus{Running: s.running, LastReport: s.lastReport}
	if s.running {
		started := s.startedAt
		status.StartedAt = &started
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Scanner) run(ctx context.Context) (BatchReport, error) {
	ids, err := s.source.Enumerate(ctx, s.dir)
	if err != nil {
		return BatchReport{}, err
	}
	log.Printf("scanner: found %d image(s) in %s", len(ids), s.dir)
	return s.analyzer.Run(ctx, ids)
}

func (s *Scanner) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.startedAt = time.Now()
	return true
}

func (s *Scanner) end(report BatchReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastErr = err
	var srcErr *media.SourceEnumerationError
	if !errors.As(err, &srcErr) {
		s.lastReport = &report
	}
}
