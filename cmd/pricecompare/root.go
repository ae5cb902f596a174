package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootFlags struct {
	envFile string
	output  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "pricecompare",
		Short: "Compare product prices across Amazon, Rakuten and Yahoo! Shopping",
		Long: `pricecompare searches Amazon.co.jp, 楽天市場 and Yahoo!ショッピング concurrently
and merges the listings into one list sorted by price.

It can also serve the same searches over HTTP, track products and keep a
price history that drives price alerts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.output {
			case "json", "yaml":
				return nil
			default:
				return fmt.Errorf("--output must be json or yaml, got %q", flags.output)
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Path to an env file loaded before the environment")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "json", "Output format: json or yaml")

	root.AddCommand(
		newSearchCmd(flags),
		newBarcodeCmd(flags),
		newDetailsCmd(flags),
		newServeCmd(flags),
		newRefreshCmd(flags),
	)
	return root
}

func render(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}
