package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/sandwichbot/storage"
	"github.com/michaelpento.lv/sandwichbot/strategies/sandwich"
)

var (
	historyLimit int
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent bundle executions from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JournalPath == "" {
			return fmt.Errorf("journal_path is not configured")
		}

		journal, err := storage.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if historyPrune > 0 {
			n, err := journal.Prune(ctx, time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pruned %d executions\n", n)
		}

		results, err := journal.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		sandwich.RenderResults(out, results)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of executions to show")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete executions older than this before listing")
	rootCmd.AddCommand(historyCmd)
}
