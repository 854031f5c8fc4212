package repository

import "fmt"

// PersistenceError reports a failed store operation. ImageID is empty for
// operations that are not tied to a single image.
type PersistenceError struct {
	Op      string
	ImageID string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.ImageID == "" {
		return fmt.Sprintf("persistence: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence: %s failed for %s: %v", e.Op, e.ImageID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func newPersistenceError(op, imageID string, err error) error {
	return &PersistenceError{Op: op, ImageID: imageID, Err: err}
}
