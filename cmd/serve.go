package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-atlas/internal/api"
	"github.com/sells-group/market-atlas/internal/boundary"
	"github.com/sells-group/market-atlas/internal/config"
	"github.com/sells-group/market-atlas/internal/fetcher"
	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/mapview"
	"github.com/sells-group/market-atlas/internal/metric"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the overlay API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		env.withRedis(ctx, cfg.Redis)

		catalog, err := metric.LoadCatalog(ctx, env.Source)
		if err != nil {
			return err
		}
		zap.L().Info("variable catalog loaded", zap.Int("variables", catalog.Len()))

		loader := newBoundaryLoader(cfg.Boundary)
		go loader.Warm(ctx, geo.National, geo.State, geo.Metro)

		sessions := mapview.NewRegistry(mapview.Deps{
			Catalog:  catalog,
			Geometry: loader,
			Source:   env.Source,
		}, overlayOptions(cfg.Overlay), cfg.Overlay.SessionIdle())
		go sessions.Run(ctx, time.Minute)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(catalog, sessions).SetupRoutes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newBoundaryLoader(bc config.BoundaryConfig) *boundary.Loader {
	return boundary.NewLoader(fetcher.NewAuto(fetcher.HTTPOptions{
		Timeout:     bc.Timeout(),
		RatePerHost: rate.Limit(bc.RateLimit),
	}), bc.BaseURL)
}

func overlayOptions(oc config.OverlayConfig) mapview.Options {
	return mapview.Options{
		PageSize:        oc.PageSize,
		ZipBuffer:       oc.ZipBufferDeg,
		ReloadThreshold: oc.ZipReloadThreshold,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
