// Package main runs the live-session coordination server: HTTP API,
// WebSocket push channel, watchdog sweep and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tutorhall/backend/config"
	"github.com/tutorhall/backend/internal/auth"
	"github.com/tutorhall/backend/internal/completion"
	"github.com/tutorhall/backend/internal/courses"
	"github.com/tutorhall/backend/internal/livesession"
	"github.com/tutorhall/backend/internal/middleware"
	"github.com/tutorhall/backend/internal/notify"
	"github.com/tutorhall/backend/internal/provider"
	"github.com/tutorhall/backend/internal/replays"
	"github.com/tutorhall/backend/pkg/database"
	"github.com/tutorhall/backend/pkg/queue"
	"github.com/tutorhall/backend/pkg/redis"
	"github.com/tutorhall/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReplaysBucket:        cfg.AWS.ReplaysBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Notification fan-out: local hub bridged over Redis pub/sub, with every
	// published event appended to the Postgres audit log.
	bridge := notify.NewRedisBridge(rdb.Client, logger)
	auditLog := notify.NewPostgresEventLog(pool)
	hub := notify.NewHub(logger, bridge, bridge, auditLog)

	completionCache := completion.NewRedis(rdb.Client, cfg.Session.CompletionTTL, logger)

	var meetings provider.MeetingProvider
	if cfg.Provider.BaseURL != "" {
		meetings = provider.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout, logger)
	} else {
		meetings = provider.NewStaticProvider(cfg.Provider.JoinURLFormat)
		logger.Info("meeting provider not configured, using static join links")
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Courses
	courseRepo := courses.NewRepository(pool)
	courseHandler := courses.NewHandler(courseRepo, logger)

	// Live sessions
	sessionStore := livesession.NewPostgresStore(pool)
	sessionSvc := livesession.NewService(sessionStore, hub, completionCache, meetings, courseRepo, cfg.Session, logger)
	sessionHandler := livesession.NewHandler(sessionSvc, logger)
	watchdog := livesession.NewWatchdog(sessionStore, sessionSvc, cfg.Session, logger)

	// Replays
	replayRepo := replays.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	replayWebhook := replays.NewWebhookHandler(replayRepo, sessionSvc, jobQueue, logger)
	replayHandler := replays.NewHandler(replayRepo, s3Client, logger)
	replayProcessor := replays.NewProcessor(replayRepo, sessionSvc, s3Client, jobQueue, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}
	courseSubscriptions := func(userID uuid.UUID) ([]uuid.UUID, error) {
		return courseRepo.CoursesForUser(context.Background(), userID)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	api := v1.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Courses
		api.GET("/courses", courseHandler.List)
		api.POST("/courses", middleware.RequireRole("admin", "tutor"), courseHandler.Create)
		api.GET("/courses/:id", courseHandler.GetByID)
		api.POST("/courses/:id/enroll", courseHandler.Enroll)

		// Live sessions
		api.POST("/courses/:id/session/start", sessionHandler.Start)
		api.GET("/courses/:id/session/current", sessionHandler.Current)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/heartbeat", sessionHandler.Heartbeat)

		// Replays
		api.GET("/courses/:id/replays", replayHandler.ListByCourse)
		api.GET("/replays/:id/download-url", replayHandler.DownloadURL)
	}

	// Webhooks (no JWT; the provider is trusted at the network boundary)
	router.POST("/webhooks/session-ended", sessionHandler.ProviderEnded)
	router.POST("/webhooks/recording-ready", replayWebhook.RecordingReady)

	// WebSocket push channel (token in query; no Authorization header on
	// browser WebSocket dials)
	router.GET("/ws", notify.ServeWs(hub, logger, jwtValidate, courseSubscriptions))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go watchdog.Run(bgCtx)
	logger.Info("watchdog started", zap.Duration("interval", cfg.Session.WatchdogInterval))
	if s3Client != nil {
		go replayProcessor.Run(bgCtx)
		logger.Info("replay worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
