package media

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/facette/natsort"
)

// ImageSource lists the images that a batch should analyse.
type ImageSource interface {
	Enumerate(ctx context.Context, dir string) ([]string, error)
}

// SourceEnumerationError means the image directory could not be listed. No
// batch is started when it occurs.
type SourceEnumerationError struct {
	Dir string
	Err error
}

func (e *SourceEnumerationError) Error() string {
	return fmt.Sprintf("source: failed to enumerate images in %s: %v", e.Dir, e.Err)
}

func (e *SourceEnumerationError) Unwrap() error {
	return e.Err
}

// LocalImageSource lists image files directly inside a directory.
type LocalImageSource struct{}

func NewLocalImageSource() *LocalImageSource {
	return &LocalImageSource{}
}

// Enumerate returns the identities of all raster images in dir, not
// descending into subdirectories, in natural filename order. An existing
// directory without images yields an empty list.
func (s *LocalImageSource) Enumerate(ctx context.Context, dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, &SourceEnumerationError{Dir: dir, Err: err}
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, &SourceEnumerationError{Dir: absDir, Err: err}
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") || !IsRasterImage(name) {
			continue
		}

		fullPath := filepath.Join(absDir, name)
		if !entry.Type().IsRegular() {
			// follow symlinks, skip directories named like images
			info, err := os.Stat(fullPath)
			if err != nil {
				log.Printf("source: skipping %s: %v", fullPath, err)
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
		}
		ids = append(ids, filepath.ToSlash(fullPath))
	}

	sort.SliceStable(ids, func(i, j int) bool {
		return natsort.Compare(ids[i], ids[j])
	})
	return ids, nil
}
