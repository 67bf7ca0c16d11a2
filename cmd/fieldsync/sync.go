package main

import (
	"fmt"

	"github.com/spf13/cobra"

	fieldsync "github.com/fieldworks/fieldsync"
)

var syncAttachmentsOnly bool
var syncMutationsOnly bool

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncMutationsOnly, "mutations", false, "drain only the mutation queue")
	syncCmd.Flags().BoolVar(&syncAttachmentsOnly, "attachments", false, "drain only the attachment queue")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the queued writes against the API now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		var report fieldsync.SyncReport
		switch {
		case syncMutationsOnly:
			report, err = rt.engine.SyncMutations(ctx)
		case syncAttachmentsOnly:
			report, err = rt.engine.SyncAttachments(ctx)
		default:
			report, err = rt.engine.PerformFullSync(ctx)
		}
		if err != nil {
			return fmt.Errorf("drain aborted after %d synced: %w", report.Synced, err)
		}

		fmt.Printf("Synced %d, failed %d\n", report.Synced, report.Failed)
		return nil
	},
}
