package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/pathfmt"
	"github.com/caedis/launcher-updater/internal/updater"
)

var skipUpdate bool

var launchCmd = &cobra.Command{
	Use:   "launch [branch]",
	Short: "Bring a branch up to date and start the game",
	Long:  "Run an update cycle, then start the configured game binary of the given branch (id or name; default: the first configured branch).",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		e := updater.New(engineOptions(cfg))
		key := cfg.Branches[0].ID
		if len(args) == 1 {
			key = args[0]
		}
		b, ok := e.Branch(key)
		if !ok {
			return wrapUsageError(fmt.Errorf("unknown branch %q", key))
		}

		if !skipUpdate {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			stop := trackProgress(e)
			err := e.RunUntilReady(ctx)
			stop()
			if err != nil {
				return err
			}
			if err := printCycle(e); err != nil {
				logging.Infof("%v\n", err)
			}
		}

		game, err := b.LaunchCommand(cfg, pathfmt.Platform())
		if err != nil {
			return err
		}
		logging.Infof("Launching %s\n", b.Name)
		logging.Debugf("Command: %s\n", strings.Join(game.Args, " "))
		if err := game.Start(); err != nil {
			return fmt.Errorf("starting game: %w", err)
		}
		return game.Process.Release()
	},
}

func init() {
	launchCmd.Flags().BoolVar(&skipUpdate, "skip-update", false, "Launch without running an update cycle first")
	rootCmd.AddCommand(launchCmd)
}
