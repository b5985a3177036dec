package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/transform-pipeline/internal/api/handler"
	"github.com/cuongbtq/transform-pipeline/internal/api/router"
	"github.com/cuongbtq/transform-pipeline/internal/app"
	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/database"
	"github.com/cuongbtq/transform-pipeline/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := app.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_driver", cfg.Queue.Driver),
	)

	// Initialize database client
	dbClient, err := app.InitDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established",
		slog.String("driver", dbClient.Driver()),
	)

	store := storage.NewStore(dbClient, appLogger.Logger)
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize task queue
	var (
		taskQueue    queue.Enqueuer
		memoryQueue  *queue.Memory
		rabbitClient *rabbitmq.Client
	)
	policy := app.RetryPolicy(&cfg.Queue)

	switch cfg.Queue.Driver {
	case config.QueueDriverMemory:
		memoryQueue = queue.NewMemory(appLogger.Logger, queue.MemoryOptions{
			Capacity:   cfg.Queue.BufferSize,
			Workers:    cfg.Worker.Concurrency,
			JobTimeout: cfg.Worker.JobTimeout,
			Policy:     policy,
		})
		taskQueue = memoryQueue
		appLogger.Info("Using in-process task queue")
	default:
		rabbitClient, err = app.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		taskQueue = queue.NewRabbitQueue(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	pipeline := app.New(&app.Dependencies{
		Logger:     appLogger.Logger,
		Store:      store,
		Queue:      taskQueue,
		Transform:  app.NewTransform(&cfg.Transform),
		Sender:     app.NewSender(&cfg.Notification, appLogger.Logger),
		Dispatcher: app.NewDispatcher(&cfg.Export),
		Policy:     policy,
	})

	// Local mode runs the task handlers in this process
	if memoryQueue != nil {
		if err := memoryQueue.Start(ctx, pipeline.Handler()); err != nil {
			return fmt.Errorf("failed to start task queue: %w", err)
		}
		defer memoryQueue.Stop()

		if cfg.Worker.ReconcileInterval > 0 {
			go pipeline.Sweeper.Run(ctx, cfg.Worker.ReconcileInterval, cfg.Worker.ReconcileAge, app.RunningBudget(cfg))
		}
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, pipeline, dbClient, rabbitClient)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	cancel()
	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, pipeline *app.App, dbClient *database.Client, rabbitClient *rabbitmq.Client) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:      logger,
		ServiceName: cfg.App.Name,
		Requestor:   pipeline.Requestor,
		Intake:      pipeline.Intake,
		Store:       pipeline.Store,
		Database:    dbClient,
	}
	if rabbitClient != nil {
		handlerDeps.Broker = rabbitClient
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
