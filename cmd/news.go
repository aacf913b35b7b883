package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/caedis/launcher-updater/internal/logging"
	"github.com/caedis/launcher-updater/internal/news"
)

var newsLimit int

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Show the latest entries of the project news feed",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.NewsRSSFeed == "" {
			logging.Infoln("No news feed configured.")
			return nil
		}

		entries, err := news.NewClient(nil).Fetch(context.Background(), cfg.NewsRSSFeed, newsLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			date := "          "
			if !e.Date.IsZero() {
				date = e.Date.Local().Format("2006-01-02")
			}
			logging.Infof("%s  %s\n", date, e.Title)
			logging.Infof("            %s\n", e.Link)
		}
		return nil
	},
}

func init() {
	newsCmd.Flags().IntVarP(&newsLimit, "limit", "n", news.DefaultLimit, "Number of entries to show")
	rootCmd.AddCommand(newsCmd)
}
