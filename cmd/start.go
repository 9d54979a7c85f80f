package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/cmd/bot"
	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/utils"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sandwich bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer utils.CleanupLogger()

		secrets, err := config.LoadSecureConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		manager, err := bot.New(ctx, cfg, secrets, log)
		if err != nil {
			log.Error("Failed to create bot", zap.Error(err))
			return err
		}

		if err := manager.Run(ctx); err != nil {
			log.Error("Bot stopped with error", zap.Error(err))
			return err
		}
		log.Info("Shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
