package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/services"
)

// FaceLister reads the current read model.
type FaceLister interface {
	FaceImages(ctx context.Context) ([]models.DisplayImage, error)
}

// TagUpdater changes the tag of one region.
type TagUpdater interface {
	UpdateTag(ctx context.Context, imageID string, box models.Box, tag string) (bool, error)
}

type FaceHandler struct {
	Store  FaceLister
	Tags   TagUpdater
	Stream http.Handler // websocket snapshot stream
}

type facesResponse struct {
	Images []models.DisplayImage `json:"images"`
}

type tagRequest struct {
	ImageID string      `json:"image_id"`
	Box     *models.Box `json:"box"`
	Tag     *string     `json:"tag"`
}

type tagResponse struct {
	ImageID string     `json:"image_id"`
	Box     models.Box `json:"box"`
	Tag     string     `json:"tag"`
	Updated bool       `json:"updated"`
}

// ListFaces returns every analysed image with at least one face and its regions.
func (fh *FaceHandler) ListFaces(w http.ResponseWriter, r *http.Request) {
	images, err := fh.Store.FaceImages(r.Context())
	if err != nil {
		log.Printf("handlers: failed to load face images: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to load face images")
		return
	}
	writeJSON(w, http.StatusOK, facesResponse{Images: images})
}

// StreamFaces upgrades to a websocket that receives a snapshot after every change.
func (fh *FaceHandler) StreamFaces(w http.ResponseWriter, r *http.Request) {
	fh.Stream.ServeHTTP(w, r)
}

// UpdateTag sets the tag of the region identified by image id and exact box.
// An empty tag clears it. A missing region is reported with updated=false.
func (fh *FaceHandler) UpdateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ImageID == "" || req.Box == nil || req.Tag == nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing required fields (image_id, box, tag)")
		return
	}

	updated, err := fh.Tags.UpdateTag(r.Context(), req.ImageID, *req.Box, *req.Tag)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTagRequest) {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		log.Printf("handlers: failed to update tag for %s %s: %v", req.ImageID, req.Box, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to update tag")
		return
	}

	writeJSON(w, http.StatusOK, tagResponse{ImageID: req.ImageID, Box: *req.Box, Tag: *req.Tag, Updated: updated})
}
