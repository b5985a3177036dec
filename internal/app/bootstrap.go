package app

import (
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/export"
	"github.com/cuongbtq/transform-pipeline/internal/notify"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/internal/transform"
	"github.com/cuongbtq/transform-pipeline/shared/database"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/cuongbtq/transform-pipeline/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitDatabase initializes the database client for the configured driver
func InitDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return database.NewClient(dbConfig, logger)
}

// RabbitMQConfig maps service configuration onto the client configuration. Every
// task type is bound on the work queue.
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	routingKeys := make([]string, 0, len(task.Types))
	for _, t := range task.Types {
		routingKeys = append(routingKeys, string(t))
	}

	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKeys:        routingKeys,
		RetryExchange:      cfg.Retry.Exchange,
		RetryQueue:         cfg.Retry.Queue,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRabbitMQ connects to RabbitMQ and declares the task topology
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// RetryPolicy builds the task retry policy; unset values fall back to defaults
func RetryPolicy(cfg *config.TaskQueueConfig) task.RetryPolicy {
	return task.RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}.WithDefaults()
}

// RunningBudget is how long a job may stay running before the reconcile sweep
// fails it: every attempt timing out after its longest backoff, plus the pending
// sweep age as slack. An explicit worker.reconcile_running_age wins; a negative
// one disables the check and yields 0.
func RunningBudget(cfg *config.Config) time.Duration {
	if age := cfg.Worker.ReconcileRunningAge; age != 0 {
		return max(age, 0)
	}
	policy := RetryPolicy(&cfg.Queue)
	return time.Duration(policy.MaxAttempts)*(cfg.Worker.JobTimeout+policy.MaxDelay) + cfg.Worker.ReconcileAge
}

// NewTransform creates the transform executor client
func NewTransform(cfg *config.TransformConfig) transform.Executor {
	return transform.NewHTTPClient(cfg.URL, cfg.APIKey, cfg.Timeout)
}

// NewSender creates the notification sender, logging notifications when no
// relay webhook is configured
func NewSender(cfg *config.NotificationConfig, logger *slog.Logger) notify.Sender {
	if cfg.WebhookURL == "" {
		return notify.NewLogSender(logger)
	}
	return notify.NewWebhookSender(cfg.WebhookURL, cfg.Timeout)
}

// NewDispatcher creates the export dispatcher, or nil when export is disabled
func NewDispatcher(cfg *config.ExportConfig) export.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	return export.NewWebhookDispatcher(cfg.WebhookURL, cfg.Timeout)
}
