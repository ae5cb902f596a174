package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/spf13/cobra"
)

type searchFlags struct {
	site       string
	maxResults int
	noShipping bool
}

func (f *searchFlags) register(cmd *cobra.Command, withSite bool) {
	if withSite {
		cmd.Flags().StringVarP(&f.site, "site", "s", "", "Search only this site (amazon, rakuten, yahoo)")
	}
	cmd.Flags().IntVarP(&f.maxResults, "max-results", "n", 0, "Maximum results per site (default from SCRAPER_MAX_RESULTS)")
	cmd.Flags().BoolVar(&f.noShipping, "no-shipping", false, "Skip shipping information")
}

func (f *searchFlags) options() (models.SearchOptions, error) {
	if f.maxResults < 0 {
		return models.SearchOptions{}, fmt.Errorf("--max-results must not be negative")
	}
	opts := models.DefaultSearchOptions()
	opts.IncludeShipping = !f.noShipping
	return opts, nil
}

func (f *searchFlags) limit(a *app) int {
	if f.maxResults > 0 {
		return f.maxResults
	}
	return a.cfg.Scraper.MaxResults
}

func newSearchCmd(root *rootFlags) *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search all sites and list results by price",
		Example: `  pricecompare search "ワイヤレスイヤホン"
  pricecompare search "Nintendo Switch" --site rakuten -n 5 -o yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			ctx := cmd.Context()
			a, err := newApp(ctx, root.envFile, appOptions{cache: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var results []models.SearchResult
			if flags.site != "" {
				results, err = a.manager.SearchSite(ctx, flags.site, query, flags.limit(a), opts)
			} else {
				results, err = a.manager.SearchAll(ctx, query, flags.limit(a), opts)
			}
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			return render(cmd.OutOrStdout(), root.output, models.NewAggregatedSearchResponse(query, results))
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newBarcodeCmd(root *rootFlags) *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "barcode <jan|asin>",
		Short: "Look up a JAN code or ASIN on every site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			code := strings.TrimSpace(args[0])

			ctx := cmd.Context()
			a, err := newApp(ctx, root.envFile, appOptions{cache: true})
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.manager.SearchByBarcode(ctx, code, flags.limit(a), opts)
			if err != nil {
				return fmt.Errorf("barcode search failed: %w", err)
			}

			return render(cmd.OutOrStdout(), root.output, models.NewAggregatedSearchResponse(code, results))
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newDetailsCmd(root *rootFlags) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "details <url>",
		Short: "Read price and shipping from a product page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hint models.Source
			if source != "" {
				parsed, err := models.ParseSource(source)
				if err != nil {
					return err
				}
				hint = parsed
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, root.envFile, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := lookupDetails(ctx, a, args[0], hint)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.output, result)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Site the URL belongs to; detected from the host when empty")
	return cmd
}

func lookupDetails(ctx context.Context, a *app, rawURL string, hint models.Source) (*models.SearchResult, error) {
	result, err := a.manager.GetProductDetails(ctx, rawURL, hint)
	if err != nil {
		return nil, fmt.Errorf("failed to get product details: %w", err)
	}
	return result, nil
}
