package cli

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"timebank/internal/config"
	"timebank/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "timebank",
	Short: "Time-credit session and ledger service",
	Long: `timebank books teaching sessions between community members and settles
them in time credits (1 credit = 1 minute). Run "timebank serve" for the HTTP
API and background jobs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the yaml config file")
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env (if any), then the config file, then sets up logging.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Environment: cfg.Log.Environment})
	log.Debug().Str("config", configPath).Msg("configuration loaded")
	return cfg, nil
}
