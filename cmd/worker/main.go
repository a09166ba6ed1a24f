// Package main runs the background job worker (replay download + S3 upload).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tutorhall/backend/config"
	"github.com/tutorhall/backend/internal/completion"
	"github.com/tutorhall/backend/internal/courses"
	"github.com/tutorhall/backend/internal/livesession"
	"github.com/tutorhall/backend/internal/notify"
	"github.com/tutorhall/backend/internal/provider"
	"github.com/tutorhall/backend/internal/replays"
	"github.com/tutorhall/backend/pkg/database"
	"github.com/tutorhall/backend/pkg/queue"
	"github.com/tutorhall/backend/pkg/redis"
	"github.com/tutorhall/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ReplaysBucket:        cfg.AWS.ReplaysBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// The worker publishes replay_ready through the same Redis bridge the
	// servers subscribe on, so connected clients still get the push event.
	bridge := notify.NewRedisBridge(rdb.Client, logger)
	auditLog := notify.NewPostgresEventLog(pool)
	hub := notify.NewHub(logger, bridge, bridge, auditLog)

	completionCache := completion.NewRedis(rdb.Client, cfg.Session.CompletionTTL, logger)
	courseRepo := courses.NewRepository(pool)
	meetings := provider.NewStaticProvider(cfg.Provider.JoinURLFormat)

	sessionStore := livesession.NewPostgresStore(pool)
	sessionSvc := livesession.NewService(sessionStore, hub, completionCache, meetings, courseRepo, cfg.Session, logger)

	replayRepo := replays.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := replays.NewProcessor(replayRepo, sessionSvc, s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
