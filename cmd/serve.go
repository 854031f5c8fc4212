package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/camden-git/facetagger/handlers"
	"github.com/camden-git/facetagger/media"
	"github.com/camden-git/facetagger/services"
	"github.com/camden-git/facetagger/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the face list, tag updates and scans over HTTP",
	Long: `Start the HTTP API. Scans of the configured directory can be started with
POST /api/scan; the current face list is available at GET /api/faces and is
streamed over the websocket at /api/faces/ws after every change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	serveCmd.Flags().Bool("no-initial-scan", false, "Do not scan the directory on startup")
	serveCmd.Flags().Int("group-size", 0, "Images per group")
	serveCmd.Flags().Int("in-flight", 0, "Groups analysed at the same time")
	serveCmd.Flags().Int("detectors", 0, "Face detector instances")
	serveCmd.Flags().Float64("min-confidence", 0, "Minimum detection confidence (0-1)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTPPort = mustGetString(cmd, "port")
	}
	if mustGetBool(cmd, "no-initial-scan") {
		cfg.ScanOnStartup = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	storeDone := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(storeDone)
	}()
	defer func() { <-storeDone }()

	pool, err := newDetectorPool(cfg)
	if err != nil {
		stop()
		return err
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	metrics, err := workers.NewBatchMetrics(registry)
	if err != nil {
		stop()
		return fmt.Errorf("failed to create batch metrics: %w", err)
	}

	analyzer := workers.NewBatchAnalyzer(store, pool, workers.Options{
		GroupSize:         cfg.GroupSize,
		MaxInFlightGroups: cfg.MaxInFlightGroups,
	}, metrics)
	scanner := workers.NewScanner(media.NewLocalImageSource(), analyzer, cfg.ScanDirectory)
	defer scanner.Wait()

	router := handlers.Router{
		Faces: &handlers.FaceHandler{
			Store:  store,
			Tags:   services.NewTagService(store),
			Stream: http.HandlerFunc(store.Hub().ServeWS),
		},
		Scan:           &handlers.ScanHandler{Scanner: scanner, BaseContext: ctx},
		Preview:        &handlers.ImagePreviewHandler{Store: store, Processor: media.NewProcessor(cfg.DetectionMaxWidth)},
		Debug:          &handlers.DebugHandler{ScanDirectory: cfg.ScanDirectory, Detector: pool},
		Images:         handlers.ImageServer(cfg.ScanDirectory),
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.AllowedOrigins,
	}

	log.Printf("Scanning directory: %s", cfg.ScanDirectory)
	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Groups of %d images, %d groups in flight, %d detector(s)", cfg.GroupSize, cfg.MaxInFlightGroups, cfg.DetectorConcurrency)

	if cfg.ScanOnStartup {
		if err := scanner.Start(ctx); err != nil {
			log.Printf("Warning: initial scan not started: %v", err)
		}
	}

	serverAddr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket streams stay open, other routes use the router timeout
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("Server starting on http://localhost:%s\n", cfg.HTTPPort)
	log.Printf("Server listening on %s", serverAddr)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
