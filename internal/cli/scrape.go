package cli

import (
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	scrapeProduct int64
	scrapeSave    bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch one product's current price",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scrape(cmd.Context(), app.ScrapeOptions{
			ProductID: scrapeProduct,
			Save:      scrapeSave,
		})
	},
}

var cycleCmd = &cobra.Command{
	Use:       "cycle [scrape|notify]",
	Short:     "Run one scrape or notify cycle immediately",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"scrape", "notify"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cycle(cmd.Context(), args[0])
	},
}

func init() {
	scrapeCmd.Flags().Int64Var(&scrapeProduct, "product", 0, "Product id")
	scrapeCmd.Flags().BoolVar(&scrapeSave, "save", false, "Record the price as a new observation")
	_ = scrapeCmd.MarkFlagRequired("product")
}
