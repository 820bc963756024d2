package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cuemby/docuflow/internal/config"
	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/bucket"
	"github.com/cuemby/docuflow/pkg/correction"
	"github.com/cuemby/docuflow/pkg/events"
	"github.com/cuemby/docuflow/pkg/extractor"
	"github.com/cuemby/docuflow/pkg/fhir"
	"github.com/cuemby/docuflow/pkg/health"
	"github.com/cuemby/docuflow/pkg/httpapi"
	"github.com/cuemby/docuflow/pkg/ingress"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
	"github.com/cuemby/docuflow/pkg/notify"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/ocrprovider"
	"github.com/cuemby/docuflow/pkg/orchestrator"
	"github.com/cuemby/docuflow/pkg/queue"
	"github.com/cuemby/docuflow/pkg/reanalysis"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingress API and the job queue's workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("data-dir", "./data", "Directory for the durable job queue and local object store")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.WithComponent("serve")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var objects objectstore.Store
	if cfg.S3Bucket != "" {
		if cfg.S3Region != "" {
			os.Setenv("AWS_REGION", cfg.S3Region)
		}
		objects, err = objectstore.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Endpoint)
	} else {
		root := cfg.ObjectStoreRoot
		if root == "" {
			root = dataDir + "/objects"
		}
		objects, err = objectstore.NewFSStore(root)
	}
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	if cfg.RecordStoreDSN == "" {
		return apierrors.New(apierrors.Validation, "record_store_dsn is required", nil)
	}
	records, err := recordstore.NewPostgresStore(ctx, cfg.RecordStoreDSN)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer records.Close()

	jobStore, err := queue.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open job queue: %w", err)
	}
	defer jobStore.Close()

	var redisClient *redis.Client
	var progress *queue.Progress
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		progress = queue.NewProgress(redisClient)
	}

	var ocr ocrprovider.Provider
	if cfg.OCREndpoint != "" {
		ocr = ocrprovider.NewHTTPProvider(cfg.OCREndpoint, cfg.OCRAPIKey)
	}
	ext := extractor.NewAnthropicExtractor(cfg.ExtractorAPIKey)

	bucketCfg := bucket.NewPolicy(cfg.ConfidenceThreshold)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	publisher := fhir.NewLoggingPublisher()

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	}

	pipeline := orchestrator.NewPipeline(objects, records, ocr, ext, bucketCfg, broker, publisher)
	pool := queue.NewPool(jobStore, pipeline.Run, progress, notifier, cfg.WorkerConcurrency)
	if cfg.SingleTimeoutS > 0 {
		pool.SingleTimeout = time.Duration(cfg.SingleTimeoutS) * time.Second
	}
	if cfg.BatchChildTimeoutS > 0 {
		pool.BatchChildTimeout = time.Duration(cfg.BatchChildTimeoutS) * time.Second
	}
	pool.Start(ctx)
	defer pool.Stop()

	sweeper := queue.NewSweeper(objects, records, jobStore, pool)
	sweeper.HighWater = cfg.QueueHighWater
	sweeper.LowWater = cfg.QueueLowWater
	if cfg.SweepIntervalS > 0 {
		sweeper.Interval = time.Duration(cfg.SweepIntervalS) * time.Second
	}
	if cfg.SweepPrefix != "" {
		sweeper.Prefixes = []string{cfg.SweepPrefix}
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	relocator := bucket.NewRelocator(objects)
	corrector := correction.NewService(records, relocator, bucketCfg, broker)
	reanalyzer := reanalysis.NewService(objects, records, ext, redisClient, corrector)

	svc := &ingress.Service{
		Objects:        objects,
		Records:        records,
		Queue:          jobStore,
		Pool:           pool,
		Pipeline:       pipeline,
		Correction:     corrector,
		Reanalysis:     reanalyzer,
		Limits:         ingress.NewLimits(cfg.MaxFileSizeMB, cfg.SupportedMime),
		QueueHighWater: cfg.QueueHighWater,
		QueueLowWater:  cfg.QueueLowWater,
		SingleTimeout:  time.Duration(cfg.SingleTimeoutS) * time.Second,
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Register("record_store", &health.FuncChecker{
		CheckKind: health.CheckTypeTCP,
		Fn:        records.Ping,
	})
	if redisClient != nil {
		healthRegistry.Register("queue_progress", &health.FuncChecker{
			CheckKind: health.CheckTypeTCP,
			Fn:        func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if cfg.OCREndpoint != "" {
		healthRegistry.Register("ocr_provider", health.NewHTTPChecker(cfg.OCREndpoint))
	}
	if cfg.ExtractorEndpoint != "" {
		healthRegistry.Register("extractor", health.NewHTTPChecker(cfg.ExtractorEndpoint))
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewServer(svc, ingress.StaticResolver{}).Router())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", healthRegistry.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("docuflow ingress API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("ingress API failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
