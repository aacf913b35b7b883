package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/updater"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep branches current, re-checking on an interval until interrupted",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if interval <= 0 {
			return wrapUsageError(fmt.Errorf("--interval must be positive, got %s", interval))
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		e := updater.New(engineOptions(cfg))
		logging.Infof("Watching %d branch(es), checking every %s\n", len(e.Branches()), interval)

		err = e.Watch(ctx, interval, func() {
			if err := printCycle(e); err != nil {
				logging.Infof("%v\n", err)
			}
			logging.Infof("Next check at %s\n", time.Now().Add(interval).Format(time.Kitchen))
		})
		if err != nil {
			return err
		}
		logging.Infoln("Stopped.")
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&interval, "interval", 30*time.Minute, "Time between update cycles")
	rootCmd.AddCommand(watchCmd)
}
