package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/camden-git/facetagger/config"
)

var rootCmd = &cobra.Command{
	Use:   "facetagger",
	Short: "Find faces in a photo directory and tag them",
	Long: `facetagger scans a directory of images with a face detection model,
stores which images contain faces together with the detected face regions in
a local SQLite database, and lets you tag each region. Re-running a scan only
analyses images that were not analysed before.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("dir", "", "Image directory to scan (overrides SCAN_DIRECTORY)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database file (overrides DATABASE_PATH)")
	rootCmd.PersistentFlags().String("db-log-level", "", "GORM log level: silent, error, warn, info")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the environment and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("dir") {
		if cfg.ScanDirectory, err = absPath(mustGetString(cmd, "dir")); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("db") {
		if cfg.DatabasePath, err = absPath(mustGetString(cmd, "db")); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("db-log-level") {
		cfg.DatabaseLogLevel = mustGetString(cmd, "db-log-level")
	}
	if flags.Lookup("group-size") != nil && flags.Changed("group-size") {
		cfg.GroupSize = mustGetInt(cmd, "group-size")
	}
	if flags.Lookup("in-flight") != nil && flags.Changed("in-flight") {
		cfg.MaxInFlightGroups = mustGetInt(cmd, "in-flight")
		if !flags.Changed("detectors") {
			cfg.DetectorConcurrency = cfg.MaxInFlightGroups
		}
	}
	if flags.Lookup("detectors") != nil && flags.Changed("detectors") {
		cfg.DetectorConcurrency = mustGetInt(cmd, "detectors")
	}
	if flags.Lookup("min-confidence") != nil && flags.Changed("min-confidence") {
		cfg.MinConfidence = mustGetFloat64(cmd, "min-confidence")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
