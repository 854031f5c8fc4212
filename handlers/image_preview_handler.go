package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/models"
)

// PreviewStore gives access to stored analyses and their regions.
type PreviewStore interface {
	Lookup(ctx context.Context, imageID string) (*models.ImageAnalysis, bool, error)
	ImageRegions(ctx context.Context, imageID string) ([]models.RegionView, error)
}

type ImagePreviewHandler struct {
	Store     PreviewStore
	Processor *media.Processor
}

// ServeImageWithFaces renders an analysed image at detection scale with its
// face regions and tags drawn on top. Only analysed images are served.
func (iph *ImagePreviewHandler) ServeImageWithFaces(w http.ResponseWriter, r *http.Request) {
	imageID := r.URL.Query().Get("id")
	if imageID == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing 'id' query parameter")
		return
	}

	_, found, err := iph.Store.Lookup(r.Context(), imageID)
	if err != nil {
		log.Printf("handlers: lookup failed for %s: %v", imageID, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to look up image")
		return
	}
	if !found {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "Image has not been analysed")
		return
	}

	path := media.ImagePath(imageID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "Image file no longer exists")
		return
	} else if err != nil {
		log.Printf("handlers: error stating image file %s: %v", path, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to read image")
		return
	}

	regions, err := iph.Store.ImageRegions(r.Context(), imageID)
	if err != nil {
		// proceed to show image without boxes
		log.Printf("handlers: error fetching regions for %s: %v", imageID, err)
	}

	buf, err := iph.Processor.RenderRegions(path, regions)
	if err != nil {
		log.Printf("handlers: error rendering %s: %v", imageID, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to render image")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(buf)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	if _, err := w.Write(buf); err != nil {
		log.Printf("handlers: error writing image response for %s: %v", imageID, err)
	}
}
