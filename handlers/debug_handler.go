package handlers

import (
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/models"
)

type DebugHandler struct {
	ScanDirectory string
	Detector      media.Detector
}

type DetectResponse struct {
	ImageID    string       `json:"image_id"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	TakenAt    *int64       `json:"taken_at,omitempty"`
	Boxes      []models.Box `json:"boxes"`
	DurationMS int64        `json:"duration_ms"`
}

// DetectImage runs the detector on one image of the scan directory and
// returns the raw result without storing it.
func (dh *DebugHandler) DetectImage(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("path")
	if name == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing 'path' query parameter")
		return
	}

	cleanName := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleanName) || strings.HasPrefix(cleanName, "..") {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid path: must be relative, no '..'")
		return
	}
	if !media.IsRasterImage(cleanName) {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Not a supported image file")
		return
	}

	imageID, err := media.ImageID(filepath.Join(dh.ScanDirectory, cleanName))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid path")
		return
	}

	start := time.Now()
	detection, err := dh.Detector.Detect(r.Context(), imageID)
	if err != nil {
		log.Printf("handlers: debug detection failed for %s: %v", imageID, err)
		WriteAPIError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, err.Error())
		return
	}

	boxes := detection.Boxes
	if boxes == nil {
		boxes = []models.Box{}
	}
	writeJSON(w, http.StatusOK, DetectResponse{
		ImageID:    imageID,
		Width:      detection.Width,
		Height:     detection.Height,
		TakenAt:    detection.TakenAt,
		Boxes:      boxes,
		DurationMS: time.Since(start).Milliseconds(),
	})
}
