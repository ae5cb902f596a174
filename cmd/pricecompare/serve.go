package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/maltedev/price-aggregator/internal/api"
	"github.com/maltedev/price-aggregator/internal/database"
	"github.com/maltedev/price-aggregator/internal/events"
	"github.com/maltedev/price-aggregator/internal/jobs"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the refresh worker and the outbox relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root.envFile, appOptions{persistence: true, cache: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	products := database.NewProductRepository(a.db)
	history := database.NewObservationRepository(a.db)
	alerts := database.NewAlertRepository(a.db)
	outbox := database.NewOutboxRepository(a.db)

	var wg sync.WaitGroup
	defer wg.Wait()

	// Workers stop before wg.Wait runs, also when the listener fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Refresh.Enabled {
		refresher := a.newRefresher(products, history, alerts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			refresher.Start(ctx)
		}()
	}

	if a.cfg.Relay.Enabled {
		if client := a.connectRedis(ctx); client != nil {
			relay := database.NewRelay(outbox, client, a.logger, database.RelayConfig{
				PollInterval: a.cfg.Relay.PollInterval,
				BatchSize:    a.cfg.Relay.BatchSize,
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("relay stopped with error", "error", err)
				}
			}()
		} else {
			a.logger.Warn("relay disabled, alerts stay in the outbox until redis is reachable")
		}
	}

	handlers := api.NewHandlers(a.manager, api.Stores{
		Products: products,
		History:  history,
		Alerts:   alerts,
	}, a.cfg.Scraper.MaxResults, a.logger)

	server := &http.Server{
		Addr: a.cfg.Server.Addr(),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			RequestTimeout: a.cfg.Server.RequestTimeout,
			Outbox:         outbox,
		}),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
		return err
	}

	a.logger.Info("server stopped")
	return nil
}

func (a *app) newRefresher(products *database.ProductRepository, history *database.ObservationRepository, alerts *database.AlertRepository) *jobs.Refresher {
	return jobs.NewRefresher(
		a.manager,
		products,
		history,
		alerts,
		events.NewDatabasePublisher(a.db, a.logger),
		jobs.Options{Interval: a.cfg.Refresh.Interval, Pause: a.cfg.Refresh.Pause},
		a.logger,
	)
}
