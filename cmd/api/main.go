package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"signflow/auth"
	"signflow/config"
	"signflow/contract"
	"signflow/db"
	"signflow/logger"
	"signflow/notification"
	"signflow/outbox"
	"signflow/pdf"
	"signflow/sanitize"
	"signflow/signing"
	"signflow/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logg := logger.New(cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		logg.Fatal("failed to initialize database", "error", err)
	}
	defer pool.Close()

	contractRepo := contract.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	writer := outbox.NewWriter(cfg.Outbox.MaxRetries)

	var transport outbox.Transport
	if cfg.SMTP.Host != "" {
		transport, err = notification.NewSMTPSender(cfg.SMTP, cfg.AppName)
		if err != nil {
			logg.Fatal("failed to initialize mail transport", "error", err)
		}
	} else {
		logg.Info("no smtp host configured, using console sender")
		transport = notification.NewConsoleSender(logg, cfg.AppName)
	}

	dispatcher := outbox.NewDispatcher(outboxRepo, transport, logg,
		cfg.Outbox.BatchSize, cfg.Outbox.SweepInterval, cfg.Outbox.SendTimeout)

	coordinator := signing.NewCoordinator(pool, contractRepo, writer, logg,
		cfg.BaseURL, cfg.AppName, cfg.Signing.MaxConflictRetries).
		WithDispatcher(dispatcher)

	if cfg.Pdf.RenderURL != "" {
		minioClient, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
			Secure: cfg.Storage.UseSSL,
		})
		if err != nil {
			logg.Fatal("failed to create minio client", "error", err)
		}
		blobs, err := storage.NewClient(ctx, minioClient, cfg.Storage.Bucket)
		if err != nil {
			logg.Fatal("failed to initialize blob storage", "error", err)
		}
		renderer := pdf.NewHTTPRenderer(cfg.Pdf.RenderURL, cfg.Pdf.Timeout)
		coordinator.WithPdfPipeline(renderer, blobs)
	} else {
		logg.Info("no pdf renderer configured, completed contracts keep html only")
	}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(pool, authRepo, writer, cfg.JWT.Secret, cfg.JWT.TTL)

	creationService := contract.NewCreationService(pool, contractRepo, sanitize.New())

	scheduler := signing.NewScheduler(coordinator, logg,
		cfg.Signing.ExpireInterval, cfg.Signing.WarningWindow)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	logg.Info("signflow ready",
		"app", cfg.AppName,
		"auth", authService != nil,
		"creation", creationService != nil,
		"sweep_interval", cfg.Outbox.SweepInterval,
		"expire_interval", cfg.Signing.ExpireInterval)

	<-ctx.Done()
	logg.Info("received interruption signal, shutting down")

	wg.Wait()
	logg.Info("shutdown complete")
}
