package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the archive database with the required schema.

This command creates the mail, attachment, consumer, and dispatch tables.
It is safe to run multiple times - tables are only created if they don't
already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger.Info("initializing database")

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		logger.Info("database initialized successfully")

		// Print stats
		stats, err := s.Stats(ctx)
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("  Mails:       %d\n", stats.Mails)
		fmt.Printf("  Attachments: %d\n", stats.Attachments)
		fmt.Printf("  Consumers:   %d\n", stats.Consumers)
		fmt.Printf("  Dispatches:  %d\n", stats.Dispatches)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
