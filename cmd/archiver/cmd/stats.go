package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics and per-consumer backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.Stats(ctx)
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Archive:\n")
		fmt.Printf("  Mails:       %d\n", stats.Mails)
		fmt.Printf("  Attachments: %d\n", stats.Attachments)
		fmt.Printf("  Consumers:   %d\n", stats.Consumers)
		fmt.Printf("  Dispatches:  %d (%d due)\n", stats.Dispatches, stats.DueDispatches)

		lags, err := s.ConsumerLags(ctx)
		if err != nil {
			return fmt.Errorf("get consumer lags: %w", err)
		}
		if len(lags) == 0 {
			return nil
		}

		fmt.Printf("\nConsumers:\n")
		for _, l := range lags {
			fmt.Printf("  %6d  %-20s  %d dispatches, %d due\n",
				l.Consumer.ID, l.Consumer.Name, l.Dispatches, l.Due)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
