package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
	"pricewatch/internal/service"
)

var (
	subscribeProduct   int64
	subscribeEmail     string
	subscribeInterval  int
	subscribeThreshold string
	subscribeLowest    bool
	subscribeHighest   bool
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe an email address to a product's price history",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.SubscriptionRequest{
			ProductID: subscribeProduct,
			Email:     subscribeEmail,
		}

		flags := cmd.Flags()
		if flags.Changed("interval") {
			req.IntervalHours = &subscribeInterval
		}
		if flags.Changed("threshold") {
			threshold, err := decimal.NewFromString(subscribeThreshold)
			if err != nil {
				return fmt.Errorf("invalid --threshold value: %w", err)
			}
			req.PriceThreshold = &threshold
		}
		if flags.Changed("notify-lowest") {
			req.NotifyOnLowest = &subscribeLowest
		}
		if flags.Changed("notify-highest") {
			req.NotifyOnHighest = &subscribeHighest
		}

		return getApp().Subscribe(cmd.Context(), app.SubscribeOptions{Request: req})
	},
}

func init() {
	subscribeCmd.Flags().Int64Var(&subscribeProduct, "product", 0, "Product id")
	subscribeCmd.Flags().StringVar(&subscribeEmail, "email", "", "Recipient address")
	subscribeCmd.Flags().IntVar(&subscribeInterval, "interval", 0, "Hours between emails (defaults to config)")
	subscribeCmd.Flags().StringVar(&subscribeThreshold, "threshold", "", "Price threshold carried with the subscription")
	subscribeCmd.Flags().BoolVar(&subscribeLowest, "notify-lowest", false, "Flag the subscription for lowest-price alerts")
	subscribeCmd.Flags().BoolVar(&subscribeHighest, "notify-highest", false, "Flag the subscription for highest-price alerts")
	_ = subscribeCmd.MarkFlagRequired("product")
	_ = subscribeCmd.MarkFlagRequired("email")
}
