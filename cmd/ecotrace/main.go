package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/common/aws/config"
	"github.com/Sayooj2275/ecotrace/common/aws/ddb"
	"github.com/Sayooj2275/ecotrace/common/aws/queue"
	"github.com/Sayooj2275/ecotrace/common/aws/storage"
	"github.com/Sayooj2275/ecotrace/common/db"
	"github.com/Sayooj2275/ecotrace/common/loggers"
	"github.com/Sayooj2275/ecotrace/common/memory"
	"github.com/Sayooj2275/ecotrace/common/metrics"
	"github.com/Sayooj2275/ecotrace/common/notifs"
	"github.com/Sayooj2275/ecotrace/common/tracing"
	"github.com/Sayooj2275/ecotrace/models"
	"github.com/Sayooj2275/ecotrace/server"
	"github.com/Sayooj2275/ecotrace/services"
)

const shutdownTimeout = 30 * time.Second

type args struct {
	Port           int           `arg:"--port,env:PORT" default:"8080" help:"HTTP listen port"`
	Store          string        `arg:"--store,env:STORE_BACKEND" default:"memory" help:"request store: memory, dynamodb or postgres"`
	ReaperInterval time.Duration `arg:"--reaper-interval,env:REAPER_INTERVAL" default:"1m" help:"how often stale requests are expired, 0 disables"`
	EventQueue     bool          `arg:"--event-queue,env:EVENT_QUEUE_ENABLED" help:"publish lifecycle events to SQS"`
	Evidence       bool          `arg:"--evidence,env:EVIDENCE_ENABLED" help:"accept evidence photo uploads into S3"`
	Profiles       string        `arg:"--profiles,env:PROFILES_FILE" help:"JSON file of profiles to load at startup"`
}

// store is what every backend provides
type store interface {
	models.RequestRepository
	models.ProfileRepository
	PutProfile(ctx context.Context, profile *models.Profile) error
}

func main() {
	if err := godotenv.Load("env/.env"); err != nil {
		log.Printf("main: no .env file loaded: %v", err)
	}
	var cmdArgs args
	arg.MustParse(&cmdArgs)

	logger := loggers.NewLogger()
	defer logger.Sync()

	serverCtx, serverCtxCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer serverCtxCancel()

	metricService, err := metrics.NewMetricService(serverCtx, logger)
	if err != nil {
		logger.Fatalf("main: failed to create metric service: %v", err)
	}
	tracerProvider, err := tracing.NewTracerProvider(serverCtx, logger)
	if err != nil {
		logger.Fatalf("main: failed to create tracer provider: %v", err)
	}
	discordHandler, err := notifs.NewDiscordHandler(logger)
	if err != nil {
		logger.Fatalf("main: failed to create discord handler: %v", err)
	}

	requestDb, err := newStore(serverCtx, logger, cmdArgs.Store)
	if err != nil {
		logger.Fatalf("main: failed to create %s store: %v", cmdArgs.Store, err)
	}
	if len(cmdArgs.Profiles) > 0 {
		if err = loadProfiles(serverCtx, requestDb, cmdArgs.Profiles); err != nil {
			logger.Fatalf("main: failed to load profiles: %v", err)
		}
	}

	var eventPublisher models.QueuePublisher
	var evidenceStore models.EvidenceStore
	if cmdArgs.EventQueue || cmdArgs.Evidence {
		awsCfg, err := config.AwsConfig(serverCtx)
		if err != nil {
			logger.Fatalf("main: error creating aws cfg: %v", err)
		}
		if cmdArgs.EventQueue {
			publisher, err := queue.NewPublisher(serverCtx, models.QueueType_Events, sqs.NewFromConfig(awsCfg))
			if err != nil {
				logger.Fatalf("main: failed to create event publisher: %v", err)
			}
			logger.Infof("main: publishing events to %s", publisher.GetUrl())
			eventPublisher = publisher
		}
		if cmdArgs.Evidence {
			evidenceStore = storage.NewS3Store(logger, s3.NewFromConfig(awsCfg))
		}
	}

	pickupService := services.NewPickupService(logger, requestDb, requestDb, eventPublisher, discordHandler, metricService)
	if cmdArgs.ReaperInterval > 0 {
		go services.NewExpiryReaper(logger, requestDb, pickupService, discordHandler, cmdArgs.ReaperInterval).Run(serverCtx)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cmdArgs.Port),
		Handler:           server.NewServer(logger, pickupService, evidenceStore).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("main: listening on %s, store=%s", httpServer.Addr, cmdArgs.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("main: server failed: %v", err)
		}
	}()

	<-serverCtx.Done()
	logger.Infof("main: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("main: server shutdown failed: %v", err)
	}
	metricService.Shutdown(shutdownCtx)
	if err = tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("main: tracer shutdown failed: %v", err)
	}
}

func newStore(ctx context.Context, logger models.Logger, backend string) (store, error) {
	switch backend {
	case "memory":
		logger.Warnf("main: using in-memory store, state will be lost on exit")
		return memory.NewRequestStore(), nil
	case "dynamodb":
		// Use override endpoint, if specified, for the request tables so that state can live locally while hitting
		// regular AWS endpoints for the queue and bucket.
		dbAwsCfg, err := config.DbAwsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return ddb.NewRequestDb(ctx, logger, dynamodb.NewFromConfig(dbAwsCfg)), nil
	case "postgres":
		return db.NewRequestDb(ctx, logger, db.RequestDbOpts{
			Host:     os.Getenv(common.Env_DbHost),
			Port:     os.Getenv(common.Env_DbPort),
			User:     os.Getenv(common.Env_DbUsername),
			Password: os.Getenv(common.Env_DbPassword),
			Name:     os.Getenv(common.Env_DbName),
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

func loadProfiles(ctx context.Context, profileDb store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var profiles []*models.Profile
	if err = json.Unmarshal(data, &profiles); err != nil {
		return err
	}
	for _, profile := range profiles {
		if !profile.Role.Valid() {
			return fmt.Errorf("profile %s has unknown role %q", profile.Ref, profile.Role)
		}
		if err = profileDb.PutProfile(ctx, profile); err != nil {
			return err
		}
	}
	return nil
}
