package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/pricing"
)

var (
	pricingFile string
	provider    string
)

var priceCmd = &cobra.Command{
	Use:   "price <model> <tokens-in> <tokens-out>",
	Short: "Print the USD cost of a call",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := strconv.Atoi(args[1])
		if err != nil || in < 0 {
			return fmt.Errorf("invalid tokens-in %q", args[1])
		}
		out, err := strconv.Atoi(args[2])
		if err != nil || out < 0 {
			return fmt.Errorf("invalid tokens-out %q", args[2])
		}
		p, err := models.ParseProvider(provider)
		if err != nil {
			return err
		}
		table, err := pricing.Load(pricingFile, newLogger())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", table.Cost(p, args[0], in, out))
		return nil
	},
}

func init() {
	priceCmd.Flags().StringVar(&pricingFile, "pricing-file", "", "pricing YAML (default: built-in table)")
	priceCmd.Flags().StringVar(&provider, "provider", "openai", "provider whose fallback rate applies to unknown models")
}
