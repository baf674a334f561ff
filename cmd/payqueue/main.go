package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/SwedbankPayQueue/app/controllers"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/archive"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/cache"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/database"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/hooks"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/reconcile"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/router"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx)
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("[Main] Shutting down")

		jobqueue.GetManager().Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// NewApplication wires storage, gateways, the reconciler and the job queue
// and returns the fiber app with all routes installed.
func NewApplication(ctx context.Context) (*fiber.App, error) {
	env.SetupEnvFile()
	setupLogLevel(env.GetEnv("LOG_LEVEL", "info"))

	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	// GATEWAYS
	registry, err := swedbankpay.LoadRegistry(db, swedbankpay.PaymentMethodsFromEnv())
	if err != nil {
		return nil, fmt.Errorf("load gateways: %w", err)
	}

	// RECONCILER + QUEUE
	manager := jobqueue.GetManager()
	reconciler := reconcile.NewFromRepositories(repos, registry, hooks.Default())
	reconciler.SetLocker(manager.Locker())
	hooks.Default().Register(reconciler.StatusListener())

	recorder := webhook.NewRecorderFromDB(db)
	manager.SetHandler(reconcile.NewTask(reconciler, recorder))
	manager.Start()

	// RAW CALLBACK ARCHIVE
	var archiver archive.Archiver
	var archiveReader controllers.ArchiveReader
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load archive config: %w", err)
	}
	if archiveCfg.IsEnabled() {
		client, err := archive.NewClient(ctx, archiveCfg)
		if err != nil {
			log.Errorf("[Main] Callback archive disabled: %v", err)
		} else {
			archiver = client
			archiveReader = client
		}
	}

	controllers.InitializeWebhookController(recorder, archiver)
	controllers.InitializeAdminController(reconciler, archiveReader, registry)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "swedbankpay-queue",
		BodyLimit: env.GetInt("BODY_LIMIT", 1024*1024),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: env.GetEnv("OPENAPI_FILE", "./docs/openapi.yml"),
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app, nil
}

func setupLogLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(log.LevelTrace)
	case "debug":
		log.SetLevel(log.LevelDebug)
	case "warn":
		log.SetLevel(log.LevelWarn)
	case "error":
		log.SetLevel(log.LevelError)
	default:
		log.SetLevel(log.LevelInfo)
	}
}
