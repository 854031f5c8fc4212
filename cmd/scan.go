package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/workers"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyse the images of a directory for faces",
	Long: `Enumerate the images of the scan directory (not recursive) and run face
detection on every image that has not been analysed yet. Results are stored in
the database. Interrupting a scan is safe: images already analysed are kept and
the next scan continues with the rest.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Int("group-size", 0, "Images per group")
	scanCmd.Flags().Int("in-flight", 0, "Groups analysed at the same time")
	scanCmd.Flags().Int("detectors", 0, "Face detector instances")
	scanCmd.Flags().Float64("min-confidence", 0, "Minimum detection confidence (0-1)")
	scanCmd.Flags().Bool("quiet", false, "Do not show a progress bar")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	imageIDs, err := media.NewLocalImageSource().Enumerate(ctx, cfg.ScanDirectory)
	if err != nil {
		var enumErr *media.SourceEnumerationError
		if errors.As(err, &enumErr) {
			return fmt.Errorf("scan not started: %w", err)
		}
		return err
	}
	fmt.Printf("Images in %s: %d\n", cfg.ScanDirectory, len(imageIDs))
	if len(imageIDs) == 0 {
		fmt.Println("Nothing to analyse.")
		return nil
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	pool, err := newDetectorPool(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	analyzer := workers.NewBatchAnalyzer(store, pool, workers.Options{
		GroupSize:         cfg.GroupSize,
		MaxInFlightGroups: cfg.MaxInFlightGroups,
	}, nil)

	var bar *progressbar.ProgressBar
	if !mustGetBool(cmd, "quiet") {
		bar = progressbar.NewOptions(len(imageIDs),
			progressbar.OptionSetDescription("Detecting faces"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
		// progressbar serialises Add internally
		analyzer.OnImageDone = func(workers.ImageOutcome) { _ = bar.Add(1) }
	}

	report, runErr := analyzer.Run(ctx, imageIDs)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	printReport(report)

	if runErr != nil {
		return fmt.Errorf("scan interrupted: %w", runErr)
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d image(s) could not be analysed, run the scan again to retry them", report.Failed())
	}
	return nil
}

func printReport(report workers.BatchReport) {
	fmt.Printf("\nCompleted in %s: %d analysed (%d with faces), %d already analysed\n",
		report.Duration.Round(time.Millisecond), report.Analyzed, report.WithFaces, report.Skipped)
	if report.NotProcessed > 0 {
		fmt.Printf("Not processed: %d\n", report.NotProcessed)
	}
	if len(report.Failures) == 0 {
		return
	}
	fmt.Printf("Failures: %d detection, %d persistence\n", report.DetectionFailures, report.PersistenceFailures)
	for _, f := range report.Failures {
		fmt.Printf("  %s [%s]: %s\n", f.ImageID, f.Outcome, f.Message)
	}
}
