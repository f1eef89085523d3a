package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/logging"
	httpAdapter "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine behind a JSON API with Server-Sent Events and WebSocket
streams per session. Prometheus metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cfg, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		logger := st.Logger

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		if err := st.WatchLibrary(sc, logger); err != nil {
			logger.Warn("library watch disabled", logging.Error(err))
		}

		handler := httpAdapter.NewHandler(st.Engine,
			httpAdapter.WithBroadcaster(st.Streams),
			httpAdapter.WithLogger(logger),
			httpAdapter.WithVersion(parley.Version),
			httpAdapter.WithMetricsHandler(promhttp.HandlerFor(st.Registry, promhttp.HandlerOpts{})),
		)

		srv := &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler: handler,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting parley server", "addr", srv.Addr, "library", cfg.Library.Dir)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)
		case <-sc.Done():
			logger.Info("shutting down", "signal", fmt.Sprint(sc.Signal()))

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("graceful shutdown did not complete", "timeout", cfg.Server.ShutdownTimeout, logging.Error(err))
				return srv.Close()
			}
			logger.Info("parley server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides server.port)")
}
