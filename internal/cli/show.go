package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	historyProduct int64
	historyLimit   int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display tracked products with current, highest and lowest price",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display a product's price history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			ProductID: historyProduct,
			Limit:     historyLimit,
		})
	},
}

func init() {
	historyCmd.Flags().Int64Var(&historyProduct, "product", 0, "Product id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of observations to display (0 for all)")
	_ = historyCmd.MarkFlagRequired("product")
}
