package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/utils"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "sandwichbot",
	Short: "A mempool sandwich bot submitting through Flashbots",
	Long: `sandwichbot watches the public mempool for large DEX swaps, sizes a
front-run and back-run around each profitable one, and submits the three
transactions as an atomic Flashbots bundle.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sandwich.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "dotenv file with secrets (default is ./.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig reads the dotenv file and the configuration, then builds the
// process logger from both.
func loadConfig() (*config.Config, *zap.Logger, error) {
	var paths []string
	if envFile != "" {
		paths = append(paths, envFile)
	}
	if err := config.LoadEnv(paths...); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	var outputs []string
	if cfg.LogFile != "" {
		outputs = append(outputs, cfg.LogFile)
	}
	logger := utils.InitLogger(debug || cfg.Debug, outputs...)
	return cfg, logger, nil
}
