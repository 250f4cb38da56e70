package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"docket-harvester/internal/archive"
	"docket-harvester/internal/config"
	"docket-harvester/internal/controller"
	"docket-harvester/internal/fetch"
	"docket-harvester/internal/httpapi"
	"docket-harvester/internal/journal"
	"docket-harvester/internal/progress"
	"docket-harvester/internal/queue"
	"docket-harvester/internal/session"
	"docket-harvester/internal/storage"
	"docket-harvester/internal/telemetry"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Session.Command) == "" {
		logger.Fatalf("session helper command is required (HARVEST_SESSION_COMMAND)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	items, err := queue.Load(cfg.Manifest.Path)
	if err != nil {
		logger.Fatalf("load manifest: %v", err)
	}
	logger.Infof("loaded %d candidate documents from %s", len(items), cfg.Manifest.Path)

	db, err := journal.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	jrnl := journal.New(db)
	if err := jrnl.Init(ctx); err != nil {
		logger.Fatalf("init journal: %v", err)
	}

	storageSvc := buildStorage(ctx, cfg, logger)

	batcher := archive.NewBatcher(archive.Config{
		ArchiveDir: cfg.Download.ArchiveDir,
		Logger:     logger,
		Store:      storageSvc,
		Bucket:     cfg.Storage.Bucket,
		KeyPrefix:  cfg.Storage.KeyPrefix,
	})

	store := progress.NewStore(filepath.Join(cfg.Download.DataDir, "checkpoint.json"), logger)
	provider := session.NewCommandProvider(cfg.Session.Command, cfg.SessionTimeout(), logger)
	sink := telemetry.MultiSink{
		&telemetry.LogSink{Logger: logger},
		journal.NewSink(jrnl, logger),
	}

	ctrl := controller.New(controller.Config{
		DataDir:       cfg.Download.DataDir,
		EpisodeCap:    cfg.Transfer.EpisodeCap,
		RecoveryPause: cfg.RecoveryPause(),
		SaveEvery:     cfg.Transfer.SaveEvery,
		Logger:        logger,
		Sink:          sink,
	}, items, store, provider, batcher, jrnl)

	worker := fetch.NewWorker(fetch.Config{
		DataDir:        cfg.Download.DataDir,
		Delay:          cfg.ItemDelay(),
		StreakLimit:    cfg.Transfer.StreakLimit,
		BatchThreshold: cfg.Transfer.BatchSize,
		RequestTimeout: cfg.RequestTimeout(),
		UserAgent:      cfg.Transfer.UserAgent,
		Logger:         logger,
		Sink:           sink,
		Checkpoint:     ctrl.NoteProgress,
		OnBatch:        ctrl.NoteBatch,
	}, batcher)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.NewHandler(ctrl, jrnl, storageSvc, cfg.Storage.Bucket).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("status api listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	runErr := ctrl.Run(ctx, worker)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	switch {
	case runErr == nil:
		logger.Info("harvest completed")
	case errors.Is(runErr, context.Canceled):
		logger.Info("harvest interrupted, checkpoint saved")
	case errors.Is(runErr, controller.ErrRecoveryExhausted):
		logger.Errorf("harvest aborted: %v", runErr)
		os.Exit(1)
	default:
		logger.Errorf("harvest failed: %v", runErr)
		os.Exit(1)
	}
}

// buildStorage returns nil when no bucket is configured; archive offload and
// the storage listing endpoint are simply disabled then.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) storage.Service {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, archives stay local only")
		return nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		logger.Fatalf("load aws config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client)
}
