// Package app wires the pipeline components together for the service binaries.
package app

import (
	"log/slog"

	"github.com/cuongbtq/transform-pipeline/internal/executor"
	"github.com/cuongbtq/transform-pipeline/internal/export"
	"github.com/cuongbtq/transform-pipeline/internal/intake"
	"github.com/cuongbtq/transform-pipeline/internal/notify"
	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/reconcile"
	"github.com/cuongbtq/transform-pipeline/internal/requestor"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/internal/transform"
)

// Dependencies are the infrastructure pieces the components are built on
type Dependencies struct {
	Logger    *slog.Logger
	Store     *storage.Store
	Queue     queue.Enqueuer
	Transform transform.Executor
	Sender    notify.Sender
	// Dispatcher receives exports; nil disables export
	Dispatcher     export.Dispatcher
	Policy         task.RetryPolicy
	ReconcileBatch int
}

// App holds every pipeline component
type App struct {
	Store     *storage.Store
	Requestor *requestor.Service
	Intake    *intake.Service
	Notifier  *notify.Controller
	Executor  *executor.Executor
	Exporter  *export.Handler
	Sweeper   *reconcile.Sweeper

	mux *queue.Mux
}

// New builds the components and registers their task handlers
func New(deps *Dependencies) *App {
	logger := deps.Logger

	dispatcher := deps.Dispatcher
	exportEnabled := dispatcher != nil
	if !exportEnabled {
		dispatcher = export.NoopDispatcher{}
	}

	a := &App{Store: deps.Store}
	a.Notifier = notify.NewController(deps.Store, deps.Sender, logger.With(slog.String("component", "notify")))
	a.Requestor = requestor.NewService(deps.Store, deps.Queue, logger.With(slog.String("component", "requestor")))
	a.Intake = intake.NewService(deps.Store, a.Notifier, logger.With(slog.String("component", "intake")))
	a.Executor = executor.New(&executor.Config{
		Logger:        logger.With(slog.String("component", "executor")),
		Store:         deps.Store,
		Transform:     deps.Transform,
		Queue:         deps.Queue,
		Policy:        deps.Policy,
		ExportEnabled: exportEnabled,
	})
	a.Exporter = export.NewHandler(deps.Store, dispatcher, logger.With(slog.String("component", "export")))
	a.Sweeper = reconcile.NewSweeper(deps.Store, deps.Queue, logger.With(slog.String("component", "reconcile")), deps.ReconcileBatch)

	a.mux = queue.NewMux()
	a.mux.Register(task.TypeExecuteTransform, a.Executor)
	a.mux.Register(task.TypeCheckNotification, a.Notifier)
	a.mux.Register(task.TypeDispatchExport, a.Exporter)

	return a
}

// Handler routes queued tasks to the components
func (a *App) Handler() queue.Handler {
	return a.mux
}
