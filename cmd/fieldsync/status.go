package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and configuration status",
	Long:  "Display the configured API, credential state, and pending queue counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", rt.cfg.API.BaseURL)
		if rt.cfg.Auth.AccessToken != "" {
			fmt.Printf("  Token:     %s\n", maskToken(rt.cfg.Auth.AccessToken))
		} else {
			fmt.Println("  Token:     (not set)")
		}

		stats, err := rt.store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("Mutation queue:")
		fmt.Printf("  Pending:   %d\n", stats.Pending)
		fmt.Printf("  Syncing:   %d\n", stats.Syncing)
		fmt.Printf("  Failed:    %d\n", stats.Failed)
		fmt.Printf("  Total:     %d\n", stats.Total)

		atts, err := rt.store.ListAttachments(ctx, "")
		if err != nil {
			return err
		}
		fmt.Printf("\nPending attachments: %d\n", len(atts))
		return nil
	},
}
