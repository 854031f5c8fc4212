package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/camden-git/facetagger/config"
	"github.com/camden-git/facetagger/database"
	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/services"
)

// openStore opens the database and creates the result store on it.
func openStore(cfg config.Config) (*gorm.DB, *services.ResultStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.Open(cfg.DatabasePath, cfg.DatabaseLogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, services.NewResultStore(db, cfg.SortOrder), nil
}

// newDetectorPool loads cfg.DetectorConcurrency independent face detectors.
func newDetectorPool(cfg config.Config) (*media.DetectorPool, error) {
	processor := media.NewProcessor(cfg.DetectionMaxWidth)
	log.Printf("Loading %d face detector(s) from %s", cfg.DetectorConcurrency, cfg.FaceDNNNetModelPath)
	pool, err := media.NewDetectorPool(cfg.DetectorConcurrency, func() (media.Detector, error) {
		return media.NewDNNFaceDetector(cfg.FaceDNNNetConfigPath, cfg.FaceDNNNetModelPath, cfg.MinConfidence, processor)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load face detector: %w", err)
	}
	return pool, nil
}

func closeDB(db *gorm.DB) {
	if err := database.Close(db); err != nil {
		log.Printf("Warning: failed to close database: %v", err)
	}
}
