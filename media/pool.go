package media

import (
	"context"
	"fmt"
	"log"
)

// DetectorPool shares a fixed set of detectors between goroutines. Each
// detector handles one image at a time, so a pool of one serialises all
// detection.
type DetectorPool struct {
	idle chan Detector
	all  []Detector
}

// NewDetectorPool creates size detectors with newDetector.
func NewDetectorPool(size int, newDetector func() (Detector, error)) (*DetectorPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("detector pool size must be positive, got %d", size)
	}

	p := &DetectorPool{idle: make(chan Detector, size)}
	for i := 0; i < size; i++ {
		d, err := newDetector()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create detector %d of %d: %w", i+1, size, err)
		}
		p.all = append(p.all, d)
		p.idle <- d
	}
	log.Printf("detection: pool ready with %d detector(s)", size)
	return p, nil
}

// Size returns the number of detectors in the pool.
func (p *DetectorPool) Size() int {
	return len(p.all)
}

// Detect waits for an idle detector and runs it on imageID.
func (p *DetectorPool) Detect(ctx context.Context, imageID string) (Detection, error) {
	var d Detector
	select {
	case d = <-p.idle:
	case <-ctx.Done():
		return Detection{}, ctx.Err()
	}
	defer func() { p.idle <- d }()
	return d.Detect(ctx, imageID)
}

// Close releases detectors that hold resources. The pool must not be used
// afterwards.
func (p *DetectorPool) Close() {
	for _, d := range p.all {
		if c, ok := d.(interface{ Close() }); ok {
			c.Close()
		}
	}
	p.all = nil
}
