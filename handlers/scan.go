package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/camden-git/facetagger/workers"
)

// ScanRunner starts background scans and reports on them.
type ScanRunner interface {
	Start(ctx context.Context) error
	Status() workers.ScanStatus
}

type ScanHandler struct {
	Scanner ScanRunner
	// BaseContext bounds background scans; request contexts end with the request.
	BaseContext context.Context
}

// StartScan starts analysing the configured directory.
func (sh *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	ctx := sh.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sh.Scanner.Start(ctx); err != nil {
		if errors.Is(err, workers.ErrScanInProgress) {
			WriteAPIError(w, http.StatusConflict, CodeConflict, "A scan is already running")
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to start scan")
		return
	}
	writeJSON(w, http.StatusAccepted, sh.Scanner.Status())
}

// GetScanStatus reports whether a scan is running and the last report.
func (sh *ScanHandler) GetScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sh.Scanner.Status())
}
