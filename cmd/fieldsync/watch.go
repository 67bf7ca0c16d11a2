package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	fieldsync "github.com/fieldworks/fieldsync"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the link and sync automatically on reconnect",
	Long:  "Hold a heartbeat connection to the push gateway and drain the queue on every offline-to-online transition. Runs until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if rt.cfg.API.HeartbeatURL == "" {
			return fmt.Errorf("no heartbeat URL configured; run 'fieldsync config set api.heartbeat_url <ws-url>'")
		}

		monitor := fieldsync.NewLinkMonitor(fieldsync.LinkMonitorConfig{
			URL:    rt.cfg.API.HeartbeatURL,
			Logger: logrus.StandardLogger(),
		})
		engine := fieldsync.NewEngine(rt.store, rt.client, monitor)
		engine.Start()
		defer engine.Stop()

		monitor.Start()
		defer monitor.Stop()

		fmt.Println("Watching link state; press Ctrl-C to stop.")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}
