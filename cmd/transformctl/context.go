package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cuongbtq/transform-pipeline/internal/app"
	"github.com/cuongbtq/transform-pipeline/internal/config"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
)

const defaultConfigPath = "configs/worker-service/config.yaml"

type commandContext struct {
	configFlag  *string
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = os.Getenv("TRANSFORMCTL_CONFIG")
		}
		if path == "" {
			path = defaultConfigPath
		}

		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.ValidateCLIConfig(); err != nil {
			c.configErr = fmt.Errorf("invalid config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// newLogger writes to stderr so command output stays machine readable
func (c *commandContext) newLogger() (*logger.Logger, error) {
	level := "warn"
	if *c.verboseFlag {
		level = "debug"
	}
	return logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
}

// withStore opens the configured database for the duration of fn
func (c *commandContext) withStore(fn func(cfg *config.Config, store *storage.Store, log *logger.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	log, err := c.newLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	dbClient, err := app.InitDatabase(&cfg.Database, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbClient.Close()

	return fn(cfg, storage.NewStore(dbClient, log.Logger), log)
}
