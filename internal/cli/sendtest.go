package cli

import (
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	sendTestProduct int64
	sendTestEmail   string
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send the price history email for a product without touching subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SendTest(cmd.Context(), app.SendTestOptions{
			ProductID: sendTestProduct,
			Email:     sendTestEmail,
		})
	},
}

func init() {
	sendTestCmd.Flags().Int64Var(&sendTestProduct, "product", 0, "Product id")
	sendTestCmd.Flags().StringVar(&sendTestEmail, "email", "", "Recipient address")
	_ = sendTestCmd.MarkFlagRequired("product")
	_ = sendTestCmd.MarkFlagRequired("email")
}
