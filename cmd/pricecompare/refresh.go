package main

import (
	"os/signal"
	"syscall"

	"github.com/maltedev/price-aggregator/internal/database"
	"github.com/spf13/cobra"
)

func newRefreshCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh pass over all tracked products",
		Long: `Fetches the current price of every tracked product, appends it to the
price history and fires the alerts whose target price was reached.
Alert events are written to the outbox; "serve" relays them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root.envFile, appOptions{persistence: true})
			if err != nil {
				return err
			}
			defer a.Close()

			refresher := a.newRefresher(
				database.NewProductRepository(a.db),
				database.NewObservationRepository(a.db),
				database.NewAlertRepository(a.db),
			)

			summary, err := refresher.RefreshAll(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.output, summary)
		},
	}
}
