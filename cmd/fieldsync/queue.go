package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	fieldsync "github.com/fieldworks/fieldsync"
)

var retryAllFailed bool
var listType string

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	queueListCmd.Flags().StringVar(&listType, "type", "", "filter by resource type (job, order, ...)")
	queueRetryCmd.Flags().BoolVar(&retryAllFailed, "all-failed", false, "reset every failed mutation")
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the local mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		var muts []fieldsync.QueuedMutation
		if listType != "" {
			muts, err = rt.manager.PendingByType(ctx, fieldsync.ResourceType(listType))
		} else {
			muts, err = rt.store.ListMutations(ctx, "")
		}
		if err != nil {
			return err
		}
		if len(muts) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for _, m := range muts {
			fmt.Printf("%s  %-8s %-8s %-13s %-7s retries=%d  %s %s\n",
				m.CreatedAt.Format(time.RFC3339), m.Status, m.ResourceType,
				m.Action, m.Method, m.RetryCount, m.Endpoint, m.ID)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Reset a failed mutation to pending with a fresh retry budget",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if retryAllFailed {
			failed, err := rt.store.ListMutations(ctx, fieldsync.MutationFailed)
			if err != nil {
				return err
			}
			for _, m := range failed {
				if err := rt.store.ResetMutationForRetry(ctx, m.ID); err != nil {
					return err
				}
			}
			fmt.Printf("Reset %d failed mutations.\n", len(failed))
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("pass a mutation id or --all-failed")
		}
		if err := rt.store.ResetMutationForRetry(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Mutation reset to pending.")
		return nil
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every non-pending mutation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		n, err := rt.store.PurgeNonPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d mutations.\n", n)
		return nil
	},
}
