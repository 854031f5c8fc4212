package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/camden-git/facetagger/media"
)

const imageAPIPrefix = "/api/images/"

// ImageServer serves the original images of the scan directory so clients
// can draw region boxes over them. Only direct children of the directory
// with a supported image extension are served.
//
//	r.Get("/api/images/*", ImageServer(cfg.ScanDirectory))
func ImageServer(scanDirectory string) http.HandlerFunc {
	baseDir := filepath.Clean(scanDirectory)

	return func(w http.ResponseWriter, r *http.Request) {
		// e.g. for request /api/images/IMG_0001.jpg, extract "IMG_0001.jpg"
		requestedFilename := strings.TrimPrefix(r.URL.Path, imageAPIPrefix)
		if requestedFilename == "" || strings.Contains(requestedFilename, "/") || strings.Contains(requestedFilename, "..") {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid image path")
			return
		}
		if !media.IsRasterImage(requestedFilename) {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Not a supported image file")
			return
		}

		cleanedPath := filepath.Clean(filepath.Join(baseDir, requestedFilename))
		if filepath.Dir(cleanedPath) != baseDir {
			WriteAPIError(w, http.StatusForbidden, CodeInvalidRequest, "Forbidden")
			log.Printf("handlers: attempted image access outside scan directory: Request='%s', Resolved='%s'", r.URL.Path, cleanedPath)
			return
		}

		info, err := os.Stat(cleanedPath)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "Image not found")
			return
		} else if err != nil {
			WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to read image")
			log.Printf("handlers: error stating image %s: %v", cleanedPath, err)
			return
		}

		cacheDuration := time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
		w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

		http.ServeFile(w, r, cleanedPath)
	}
}
