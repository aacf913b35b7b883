package cmd

import (
	"bytes"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Save launcher options under a name for use with --profile",
}

// profileFlags are registered on profile create only. They shadow the
// persistent flags so that only options given to create end up in the
// profile.
var profileFlags = pflag.NewFlagSet("profile", pflag.ContinueOnError)

var (
	profConfig      = profileFlags.String("config", "", "Client configuration file to pin")
	profBaseDir     = profileFlags.String("base-dir", "", "Installation directory to pin")
	profConcurrency = profileFlags.Int("concurrency", downloader.DefaultConcurrency(), "Concurrent downloads per branch")
	profStrictHash  = profileFlags.Bool("strict-hash", false, "Discard downloads whose hash does not match")
	profPrune       = profileFlags.Bool("prune", false, "Delete files the manifest no longer lists")
	profVerbose     = profileFlags.Bool("verbose", false, "Enable verbose logging")
	profLogFile     = profileFlags.String("log-file", "", "Append output to this file")
	profInterval    = profileFlags.Duration("interval", 30*time.Minute, "Period between watch cycles")
)

// profileFromFlags keeps only the options set on the command line.
func profileFromFlags(flags *pflag.FlagSet) *profile.Profile {
	p := &profile.Profile{}
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("config", func() { p.Config = profConfig })
	set("base-dir", func() { p.BaseDir = profBaseDir })
	set("concurrency", func() { p.Concurrency = profConcurrency })
	set("strict-hash", func() { p.StrictHash = profStrictHash })
	set("prune", func() { p.Prune = profPrune })
	set("verbose", func() { p.Verbose = profVerbose })
	set("log-file", func() { p.LogFile = profLogFile })
	set("interval", func() {
		s := profInterval.String()
		p.Interval = &s
	})
	return p
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name> [options]",
	Short: "Save the given options as a profile, replacing one of the same name",
	Example: "  launcher-updater profile create nightly --base-dir /games/fc --interval 15m --prune\n" +
		"  launcher-updater --profile nightly watch",
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.Save(args[0], profileFromFlags(cmd.Flags())); err != nil {
			return err
		}
		logging.Infof("Profile %q saved to %s\n", args[0], profile.Dir())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			logging.Infoln("No profiles saved.")
			return nil
		}
		for _, n := range names {
			logging.Infoln(n)
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the options a profile pins",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return err
		}
		if buf.Len() == 0 {
			logging.Infof("Profile %q pins no options.\n", args[0])
			return nil
		}
		logging.Infof("%s", buf.String())
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.Delete(args[0]); err != nil {
			return err
		}
		logging.Infof("Profile %q deleted.\n", args[0])
		return nil
	},
}

func init() {
	profileCreateCmd.Flags().AddFlagSet(profileFlags)
	profileCmd.AddCommand(profileCreateCmd, profileListCmd, profileShowCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
