package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Manage feed consumers",
}

var consumerAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new consumer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.AddConsumer(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Added consumer %d (%s)\n", c.ID, c.Name)
		fmt.Printf("Mint a token with: archiver token --consumer %d\n", c.ID)
		return nil
	},
}

var consumerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		consumers, err := s.Consumers(ctx)
		if err != nil {
			return err
		}
		if len(consumers) == 0 {
			fmt.Println("No consumers registered. Add one with 'archiver consumer add <name>'.")
			return nil
		}
		for _, c := range consumers {
			fmt.Printf("%6d  %s\n", c.ID, c.Name)
		}
		return nil
	},
}

func init() {
	consumerCmd.AddCommand(consumerAddCmd)
	consumerCmd.AddCommand(consumerListCmd)
	rootCmd.AddCommand(consumerCmd)
}
