package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/services"
)

var tagCmd = &cobra.Command{
	Use:   "tag [name]",
	Short: "Tag a face region of an analysed image",
	Long: `Set the tag of one face region. The region is identified by its image and
its exact box as printed by 'facetagger list', e.g.

  facetagger tag --image IMG_0001.jpg --box "(10,12,58,70)" Alice

Without a name the tag is cleared.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTag,
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.Flags().String("image", "", "Image path, absolute or relative to the scan directory")
	tagCmd.Flags().String("box", "", "Region box as left,top,right,bottom")
	_ = tagCmd.MarkFlagRequired("image")
	_ = tagCmd.MarkFlagRequired("box")
}

func runTag(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	box, err := parseBox(mustGetString(cmd, "box"))
	if err != nil {
		return err
	}
	tag := ""
	if len(args) == 1 {
		tag = args[0]
	}

	imagePath := mustGetString(cmd, "image")
	if !filepath.IsAbs(imagePath) {
		imagePath = filepath.Join(cfg.ScanDirectory, imagePath)
	}
	imageID, err := media.ImageID(imagePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)

	db, store, err := openStore(cfg)
	if err != nil {
		cancel()
		return err
	}
	defer closeDB(db)

	storeDone := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(storeDone)
	}()
	defer func() {
		cancel()
		<-storeDone
	}()

	sub, err := store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to load face images: %w", err)
	}
	defer sub.Close()

	session := services.NewSession(services.NewTagService(store))
	go session.Follow(ctx, sub)

	select {
	case <-session.Updated():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for face images")
	}

	if !session.Select(imageID) {
		return fmt.Errorf("no analysed image with faces: %s", imageID)
	}
	selected, _ := session.Selected()
	if _, ok := selected.Region(box); !ok {
		return fmt.Errorf("image %s has no region %s, regions: %s", imageID, box, regionList(selected.Regions))
	}

	session.OnTagUpdate(ctx, tag, box)
	session.Wait()

	regions, err := store.ImageRegions(ctx, imageID)
	if err != nil {
		return err
	}
	for _, r := range regions {
		if r.Box.Equal(box) {
			if r.Tag != tag {
				return fmt.Errorf("tag of %s %s was not saved", imageID, box)
			}
			fmt.Printf("%s %s -> %s\n", imageID, box, displayTag(r.Tag))
			return nil
		}
	}
	return fmt.Errorf("region %s of %s disappeared", box, imageID)
}

// parseBox reads "left,top,right,bottom", optionally in parentheses as
// models.Box prints it.
func parseBox(value string) (models.Box, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "("), ")")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 4 {
		return models.Box{}, fmt.Errorf("invalid box '%s': expected left,top,right,bottom", value)
	}

	var edges [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return models.Box{}, fmt.Errorf("invalid box '%s': %w", value, err)
		}
		edges[i] = v
	}

	box := models.Box{Left: edges[0], Top: edges[1], Right: edges[2], Bottom: edges[3]}
	if err := box.Validate(); err != nil {
		return models.Box{}, err
	}
	return box, nil
}

func regionList(regions []models.RegionView) string {
	if len(regions) == 0 {
		return "none"
	}
	boxes := make([]string, len(regions))
	for i, r := range regions {
		boxes[i] = r.Box.String()
	}
	return strings.Join(boxes, " ")
}

func displayTag(tag string) string {
	if tag == "" {
		return "Untagged"
	}
	return tag
}
