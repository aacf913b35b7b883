package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/caedis/launcher-updater/internal/branch"
	"github.com/caedis/launcher-updater/internal/config"
	"github.com/caedis/launcher-updater/internal/diff"
	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/manifest"
	"github.com/caedis/launcher-updater/internal/pathfmt"
)

var statusRemote bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded cycle and, with --remote, what an update would change",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		state, err := config.LoadState(baseDir)
		if err != nil {
			return err
		}

		vars := pathfmt.Global().With("project", pathfmt.SanitizeURL(cfg.Project))
		client := manifest.NewClient()

		logging.Infof("%s (%s)\n", cfg.Project, vars["platform"])
		for _, bc := range cfg.Branches {
			bs := state.Branches[bc.ID]
			logging.Infof("\n%s [%s]\n", bc.Name, bc.ID)
			if bs.LastFetched.IsZero() {
				logging.Infoln("  Last fetched: never")
			} else {
				logging.Infof("  Last fetched: %s (%d files)\n", bs.LastFetched.Local().Format(time.RFC1123), bs.FileCount)
			}
			if bs.Error != "" {
				logging.Infof("  Last error:   %s\n", bs.Error)
			}
			if len(bs.Failed) > 0 {
				logging.Infof("  Failed files: %d\n", len(bs.Failed))
				for _, f := range bs.Failed {
					logging.Debugf("    %s\n", f)
				}
			}

			if !statusRemote {
				continue
			}
			b := branch.New(bc, baseDir)
			if err := b.Index(); err != nil {
				logging.Infof("  Scan failed: %v\n", err)
				continue
			}
			m, err := client.Fetch(context.Background(), cfg.IndexEndpoint, b.Vars(vars))
			if err != nil {
				logging.Infof("  Manifest unavailable: %v\n", err)
				continue
			}
			r := diff.Compute(b.Dir, b.Files(), m, b.Vars(vars))
			added, updated, unchanged, extra := diff.Summary(r)
			logging.Infof("  Pending:      %d added, %d updated, %d unchanged, %d extra (%s)\n",
				added, updated, unchanged, extra, humanBytes(r.DownloadSize()))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "Scan local files and fetch manifests to show pending changes")
	rootCmd.AddCommand(statusCmd)
}
