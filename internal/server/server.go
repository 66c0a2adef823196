package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/spans/internal/bootstrap"
	"github.com/OFFIS-RIT/spans/internal/queue"
	mid "github.com/OFFIS-RIT/spans/internal/server/middleware"
	"github.com/OFFIS-RIT/spans/internal/storage"
	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("8M"))

	RegisterRoutes(e, gatherer)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	engine, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open graph engine", "err", err)
	}
	defer engine.Close()

	app := &mid.App{
		Graph:          engine.Graph,
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues, util.GetEnvSeconds("QUEUE_RETRY_DELAY_SECONDS", 10*time.Second)); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Repairs = queue.NewRepairPublisher(ch)
	} else {
		logger.Warn("RABBITMQ_HOST not set, repair submission disabled")
	}

	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		publicEndpoint := util.GetEnvString("AWS_PUBLIC_ENDPOINT", util.GetEnv("AWS_ENDPOINT"))
		app.ReportLink = func(ctx context.Context, runID string) (string, error) {
			return storage.GenerateDownloadLink(ctx, s3Client, bucket, publicEndpoint, storage.ReportKey(runID))
		}
	}

	e := New(app, engine.Registry)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
