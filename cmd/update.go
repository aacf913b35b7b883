package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caedis/launcher-updater/internal/diff"
	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/updater"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run one update cycle: launcher check, local scan, branch downloads",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		e := updater.New(engineOptions(cfg))
		stop := trackProgress(e)
		err = e.RunUntilReady(ctx)
		stop()
		if err != nil {
			return err
		}

		return printCycle(e)
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

// printCycle reports the last cycle and returns an error naming the branches
// that were aborted or left files behind.
func printCycle(e *updater.Engine) error {
	if l := e.Launcher(); l.Err != nil {
		logging.Infof("Launcher update check failed: %v\n", l.Err)
	}

	results := e.Results()
	var failed []string
	for _, b := range e.Branches() {
		r, ok := results[b.ID]
		if !ok {
			continue
		}
		if r.Err != nil {
			logging.Infof("%s: update failed: %v\n", b.Name, r.Err)
			failed = append(failed, b.Name)
			continue
		}

		added, updated, unchanged, extra := diff.Summary(r.Report.Diff)
		if added == 0 && updated == 0 {
			logging.Infof("%s: up to date (%d files", b.Name, unchanged)
		} else {
			logging.Infof("%s: %d added, %d updated, %d unchanged (%s", b.Name, added, updated, unchanged, humanBytes(r.Report.Diff.DownloadSize()))
		}
		if extra > 0 {
			if len(r.Report.Pruned) > 0 {
				logging.Infof(", %d extra, %d pruned", extra, len(r.Report.Pruned))
			} else {
				logging.Infof(", %d extra", extra)
			}
		}
		logging.Infoln(")")

		if r.Report.Warnings > 0 {
			logging.Infof("  %d file(s) did not match their manifest hash\n", r.Report.Warnings)
		}
		if len(r.Report.Failed) > 0 {
			logging.Infof("  Failed: %s\n", strings.Join(r.Report.Failed, ", "))
			failed = append(failed, b.Name)
		}
	}

	if len(failed) > 0 {
		slices.Sort(failed)
		return fmt.Errorf("update incomplete for %s", strings.Join(slices.Compact(failed), ", "))
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
