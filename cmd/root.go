package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"apirelay/internal/config"
	"apirelay/internal/format"
	relayhttp "apirelay/internal/http"
	"apirelay/internal/logger"
	"apirelay/internal/relay"
	"apirelay/internal/storage"
)

var (
	configPath string
	userID     string
)

var rootCmd = &cobra.Command{
	Use:   "apirelay",
	Short: "A sandboxed HTTP relay and request console",
	Long: `apirelay forwards HTTP requests to an allowlist of destinations and keeps
a per-user history of what was sent, similar to Postman.

Examples:
  apirelay serve
  apirelay get /api/mock/users
  apirelay post /api/mock/echo -d '{"name": "John"}'
  apirelay get https://dorar.net/dorar_api.json -q skey=نية --parsed
  apirelay history
  apirelay saved list`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Init(&cfg.Log)
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		format.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show response headers")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "User id that owns history and saved requests")
}

var loadedConfig *config.Config

func loadConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	loadedConfig = cfg
	return cfg, nil
}

// mustConfig returns the loaded config; PersistentPreRunE has already
// reported load failures.
func mustConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		exitWith("Failed to load config", err)
	}
	return cfg
}

func openStore(ctx context.Context, cfg *config.Config) storage.Store {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		exitWith("Failed to open storage", err)
	}
	return store
}

// newRelay assembles the in-process relay from cfg.
func newRelay(cfg *config.Config) (*relay.Relay, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid self base url: %w", err)
	}
	client := relayhttp.NewClient(
		relayhttp.WithTimeout(cfg.Relay.Timeout),
		relayhttp.WithMaxResponseBytes(cfg.Relay.MaxResponseBytes),
		relayhttp.WithUserAgent(cfg.Relay.UserAgent),
	)
	return relay.New(policy, client, base,
		relay.WithMaxBodyBytes(cfg.Relay.MaxBodyBytes),
		relay.WithLogger(logger.L().Named("relay")),
	), nil
}

func exitWith(msg string, err error) {
	switch {
	case err != nil && msg == "":
		msg = err.Error()
	case err != nil:
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	format.PrintError(msg)
	os.Exit(1)
}
