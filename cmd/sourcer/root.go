package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sourcer/internal/app/di"
	"sourcer/internal/shared/config"
	"sourcer/internal/shared/logging"
)

// Flag keys shared by viper and cobra.
const (
	keyConfig      = "config"
	keyProvider    = "llm-provider"
	keyModel       = "llm-model"
	keyToolserver  = "toolserver"
	keyStore       = "store"
	keyLogLevel    = "log-level"
	keyMetrics     = "metrics"
	keyMetricsAddr = "metrics-listen"
	keyTracing     = "tracing"
)

type cli struct {
	v *viper.Viper
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("SOURCER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "sourcer",
		Short:         "Conversational media sourcing for video projects",
		Long:          "sourcer turns a chat message into ranked video and link candidates,\nasking for network consent before it searches or resolves anything.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "config file (default $HOME/.sourcer/config.yaml)")
	flags.String(keyProvider, "", "LLM provider: openai, ollama or mock")
	flags.String(keyModel, "", "LLM model name")
	flags.String(keyToolserver, "", "toolserver base URL; empty uses the embedded store")
	flags.String(keyStore, "", "sqlite database path for the embedded store")
	flags.String(keyLogLevel, "", "log level: debug, info, warn, error")
	flags.Bool(keyMetrics, false, "serve Prometheus metrics while the command runs")
	flags.String(keyMetricsAddr, "", "metrics listen address")
	flags.Bool(keyTracing, false, "export spans over OTLP/HTTP")
	_ = c.v.BindPFlags(flags)

	root.AddCommand(
		c.newTurnCommand(),
		c.newChatCommand(),
		c.newProjectCommand(),
		c.newConsentCommand(),
		c.newSettingsCommand(),
		c.newHistoryCommand(),
		c.newFeedbackCommand(),
		c.newConfigCommand(),
	)
	return root
}

// loadConfig reads the file and environment, then applies explicit flags.
func (c *cli) loadConfig() (config.Config, string, error) {
	cfg, path, err := config.Load(config.WithConfigPath(c.v.GetString(keyConfig)))
	if err != nil {
		return config.Config{}, path, err
	}
	applyFlagOverrides(c.v, &cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, path, err
	}
	return cfg, path, nil
}

func applyFlagOverrides(v *viper.Viper, cfg *config.Config) {
	setString := func(key string, target *string) {
		if s := strings.TrimSpace(v.GetString(key)); v.IsSet(key) && s != "" {
			*target = s
		}
	}
	setString(keyProvider, &cfg.LLM.Provider)
	setString(keyModel, &cfg.LLM.Model)
	setString(keyToolserver, &cfg.Toolserver.BaseURL)
	setString(keyStore, &cfg.Store.Path)
	setString(keyLogLevel, &cfg.Log.Level)
	setString(keyMetricsAddr, &cfg.Metrics.Listen)
	if v.GetBool(keyMetrics) {
		cfg.Metrics.Enabled = true
	}
	if v.GetBool(keyTracing) {
		cfg.Tracing.Enabled = true
	}
}

// withContainer builds the dependency graph for one command run.
func (c *cli) withContainer(ctx context.Context, fn func(*di.Container) error) error {
	cfg, path, err := c.loadConfig()
	if err != nil {
		return err
	}
	container, err := di.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = container.Shutdown(shutdownCtx)
	}()

	logger := logging.NewComponentLogger("cli")
	if path != "" {
		logger.Debug("config loaded from %s", path)
	}
	for _, w := range config.Warnings(cfg) {
		logger.Warn("%s", w)
	}
	if container.MetricsAddr != "" {
		logger.Info("metrics at http://%s/metrics", container.MetricsAddr)
	}
	return fn(container)
}

func requireFlag(cmd *cobra.Command, name string) (string, error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return value, nil
}
