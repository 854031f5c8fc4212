package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/facetagger/database"
	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysed images with faces and their regions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("sort", "", "Sort order: image_asc, image_nat, date_desc, date_asc")
	listCmd.Flags().Bool("json", false, "Print JSON")
	listCmd.Flags().Bool("details", false, "Show camera information from EXIF")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("sort") {
		cfg.SortOrder = mustGetString(cmd, "sort")
		if !database.IsValidSortOrder(cfg.SortOrder) {
			return fmt.Errorf("invalid sort order '%s'", cfg.SortOrder)
		}
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	ctx := context.Background()
	images, err := store.FaceImages(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(images)
	}

	analysed, withFaces, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Analysed images: %d (%d with faces)\n\n", analysed, withFaces)

	details := mustGetBool(cmd, "details")
	for _, img := range images {
		printImage(img, details)
	}
	return nil
}

func printImage(img models.DisplayImage, details bool) {
	fmt.Printf("%s (%dx%d)\n", img.ImageID, img.DetectionWidth, img.DetectionHeight)
	if img.TakenAt != nil {
		fmt.Printf("  taken:  %s\n", time.Unix(*img.TakenAt, 0).Format("2006-01-02 15:04:05"))
	}
	if details {
		if meta, err := utils.GetImageMetadata(media.ImagePath(img.ImageID)); err == nil {
			if meta.CameraMake != nil || meta.CameraModel != nil {
				fmt.Printf("  camera: %s %s\n", deref(meta.CameraMake), deref(meta.CameraModel))
			}
		} else {
			fmt.Printf("  metadata unavailable: %v\n", err)
		}
	}
	for _, r := range img.Regions {
		fmt.Printf("  %-28s %s\n", r.Box, displayTag(r.Tag))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
