package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caedis/launcher-updater/internal/config"
	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/profile"
	"github.com/caedis/launcher-updater/internal/selfupdate"
	"github.com/caedis/launcher-updater/internal/updater"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=1.2.3".
var Version = updater.DevVersion

var (
	baseDir     string
	configPath  string
	profileName string
	verbose     bool
	logFile     string
	concurrency int
	strictHash  bool
	prune       bool
	offline     bool
	interval    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "launcher-updater",
	Short:         "Keep a game installation and its launcher up to date",
	Long:          "Reconcile local game branches against their published manifests, download what changed, and replace the launcher itself when a new build is published.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Apply profile defaults for flags not explicitly set by the user.
		if profileName != "" {
			p, err := profile.Load(profileName)
			if err != nil {
				return err
			}
			if err := applyProfile(cmd, p); err != nil {
				return err
			}
		}

		logging.SetVerbose(verbose)
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		if selfupdate.JustUpdated() {
			logging.Infof("Launcher updated to %s\n", Version)
		}
		return nil
	},
}

func applyProfile(cmd *cobra.Command, p *profile.Profile) error {
	flags := cmd.Flags()
	if p.Config != nil && !flags.Changed("config") {
		configPath = *p.Config
	}
	if p.BaseDir != nil && !flags.Changed("base-dir") {
		baseDir = *p.BaseDir
	}
	if p.Concurrency != nil && !flags.Changed("concurrency") {
		concurrency = *p.Concurrency
	}
	if p.StrictHash != nil && !flags.Changed("strict-hash") {
		strictHash = *p.StrictHash
	}
	if p.Prune != nil && !flags.Changed("prune") {
		prune = *p.Prune
	}
	if p.Verbose != nil && !flags.Changed("verbose") {
		verbose = *p.Verbose
	}
	if p.LogFile != nil && !flags.Changed("log-file") {
		logFile = *p.LogFile
	}
	d, ok, err := p.WatchInterval()
	if err != nil {
		return fmt.Errorf("profile %q: %w", profileName, err)
	}
	if ok && !flags.Changed("interval") {
		interval = d
	}
	return nil
}

func Execute() {
	err := rootCmd.Execute()
	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&baseDir, "base-dir", "d", ".", "Installation directory holding one subdirectory per branch")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Client configuration file (default: <base-dir>/"+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", downloader.DefaultConcurrency(), "Number of concurrent downloads per branch")
	rootCmd.PersistentFlags().BoolVar(&strictHash, "strict-hash", false, "Discard downloaded files whose hash does not match the manifest")
	rootCmd.PersistentFlags().BoolVar(&prune, "prune", false, "Delete local files the manifest no longer lists")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Skip the launcher self-update check")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(baseDir, config.DefaultFile)
	}
	return config.Load(path)
}

func engineOptions(cfg *config.Config) updater.Options {
	integrity := downloader.IntegrityWarn
	if strictHash {
		integrity = downloader.IntegrityStrict
	}
	return updater.Options{
		Config:      cfg,
		BaseDir:     baseDir,
		Version:     Version,
		Offline:     offline,
		Concurrency: concurrency,
		Integrity:   integrity,
		PruneExtras: prune,
		Log:         logging.Named("updater"),
		BeforeRestart: func() {
			stopActiveProgress()
			if err := logging.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
			}
		},
	}
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
