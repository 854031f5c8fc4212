package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultGroupSize         = 20
	DefaultMaxInFlightGroups = 5
	DefaultDetectionMaxWidth = 512
	DefaultMinConfidence     = 0.5
	DefaultDatabaseLogLevel  = "warn"
	DefaultHTTPPort          = "8080"
	DefaultAllowedOrigin     = "http://localhost:5173"
	DefaultSortOrder         = "image_nat"
)

const (
	defaultFaceDNNConfigPath = "./models/deploy.prototxt.txt"
	defaultFaceDNNModelPath  = "./models/res10_300x300_ssd_iter_140000_fp16.caffemodel"
	defaultDatabaseFilename  = "facetagger.db"
)

type Config struct {
	// directory whose images are analysed
	ScanDirectory string

	// sqlite database file
	DatabasePath     string
	DatabaseLogLevel string // silent, error, warn, info

	// order of the face image list: image_asc, image_nat, date_desc, date_asc
	SortOrder string

	// batch settings
	GroupSize         int // images per group, processed sequentially
	MaxInFlightGroups int // groups running at the same time

	// detection settings
	DetectorConcurrency  int // independent detector instances, 1 serialises detection
	DetectionMaxWidth    int // images wider than this are downscaled before detection
	MinConfidence        float64
	FaceDNNNetConfigPath string
	FaceDNNNetModelPath  string

	// http settings
	HTTPPort       string
	AllowedOrigins []string
	ScanOnStartup  bool
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val < 0 || val > 1 {
		log.Printf("Warning: Invalid %s '%s'. Using default %.2f. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func LoadConfig() (Config, error) {
	scanDir := getEnvOrDefault("SCAN_DIRECTORY", ".")
	absScanDir, err := filepath.Abs(scanDir)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for scan directory '%s': %w", scanDir, err)
	}

	dbPath := getEnvOrDefault("DATABASE_PATH", defaultDatabaseFilename)
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for database '%s': %w", dbPath, err)
	}

	maxInFlight := getEnvIntOrDefault("MAX_IN_FLIGHT_GROUPS", DefaultMaxInFlightGroups)

	cfg := Config{
		ScanDirectory:        absScanDir,
		DatabasePath:         absDBPath,
		DatabaseLogLevel:     strings.ToLower(getEnvOrDefault("DATABASE_LOG_LEVEL", DefaultDatabaseLogLevel)),
		SortOrder:            strings.ToLower(getEnvOrDefault("SORT_ORDER", DefaultSortOrder)),
		GroupSize:            getEnvIntOrDefault("GROUP_SIZE", DefaultGroupSize),
		MaxInFlightGroups:    maxInFlight,
		DetectorConcurrency:  getEnvIntOrDefault("DETECTOR_CONCURRENCY", maxInFlight),
		DetectionMaxWidth:    getEnvIntOrDefault("DETECTION_MAX_WIDTH", DefaultDetectionMaxWidth),
		MinConfidence:        getEnvFloatOrDefault("DETECTION_MIN_CONFIDENCE", DefaultMinConfidence),
		FaceDNNNetConfigPath: getEnvOrDefault("FACE_DNN_CONFIG_PATH", defaultFaceDNNConfigPath),
		FaceDNNNetModelPath:  getEnvOrDefault("FACE_DNN_MODEL_PATH", defaultFaceDNNModelPath),
		HTTPPort:             getEnvOrDefault("PORT", DefaultHTTPPort),
		AllowedOrigins:       splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", DefaultAllowedOrigin)),
		ScanOnStartup:        getEnvBoolOrDefault("SCAN_ON_STARTUP", true),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that can also be changed through command line flags.
func (c Config) Validate() error {
	if c.GroupSize <= 0 {
		return fmt.Errorf("group size must be positive, got %d", c.GroupSize)
	}
	if c.MaxInFlightGroups <= 0 {
		return fmt.Errorf("max in-flight groups must be positive, got %d", c.MaxInFlightGroups)
	}
	if c.DetectorConcurrency <= 0 {
		return fmt.Errorf("detector concurrency must be positive, got %d", c.DetectorConcurrency)
	}
	if c.DetectionMaxWidth <= 0 {
		return fmt.Errorf("detection max width must be positive, got %d", c.DetectionMaxWidth)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("detection min confidence must be within [0,1], got %f", c.MinConfidence)
	}
	switch c.DatabaseLogLevel {
	case "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("invalid database log level '%s'", c.DatabaseLogLevel)
	}
	return nil
}
