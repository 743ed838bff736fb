package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediagate/pkg/descriptor"
	"mediagate/pkg/fetcher"
	"mediagate/pkg/gateway"
	"mediagate/pkg/metrics"
	"mediagate/pkg/remote"
	"mediagate/pkg/session"
	"mediagate/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddress = listen
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			transport, err := cfg.TLS.DialOption()
			if err != nil {
				return fmt.Errorf("failed to build client TLS config: %w", err)
			}

			dialer := remote.NewDialer(remote.Config{
				Endpoints:   cfg.Datacenters,
				APIToken:    cfg.APIToken,
				DialTimeout: cfg.DialTimeout,
				DialOptions: []grpc.DialOption{transport},
			}, logger.Named("remote"))

			var (
				cache *descriptor.Cache
				mt    *metrics.Metrics
			)
			if cfg.MetricsEnabled {
				mt = metrics.New(func() float64 {
					if cache == nil {
						return 0
					}
					return float64(cache.Len())
				})
			}

			sessions := session.NewManager(dialer, types.DatacenterID(cfg.HomeDatacenter), logger.Named("session"),
				session.WithHandshakeTimeout(cfg.DialTimeout),
				session.WithMetrics(mt))
			defer sessions.Close()

			cacheOpts := []descriptor.Option{descriptor.WithMetrics(mt)}
			if cfg.Cache.RedisAddr != "" {
				shared := descriptor.NewRedisStore(descriptor.RedisConfig{
					Addr:     cfg.Cache.RedisAddr,
					DB:       cfg.Cache.RedisDB,
					Password: cfg.Cache.RedisPassword,
				}, logger.Named("redis"))
				defer shared.Close()

				pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				err := shared.Ping(pingCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("failed to reach redis at %s: %w", cfg.Cache.RedisAddr, err)
				}
				cacheOpts = append(cacheOpts, descriptor.WithSharedStore(shared))
				logger.Info("Shared descriptor cache enabled", zap.String("redis", cfg.Cache.RedisAddr))
			}

			cache = descriptor.NewCache(sessions, cfg.Cache.Size, cfg.Cache.TTL, logger.Named("descriptor"), cacheOpts...)
			f := fetcher.NewFetcher(sessions, cache, logger.Named("fetcher"), fetcher.WithMetrics(mt))

			gwOpts := []gateway.Option{}
			if mt != nil {
				gwOpts = append(gwOpts, gateway.WithMetrics(mt))
			}
			gw, err := gateway.New(gateway.Config{
				Address:            cfg.ListenAddress,
				PublicURL:          cfg.PublicURL,
				ChunkSize:          cfg.ChunkSize,
				CacheControlMaxAge: cfg.CacheControlMaxAge,
				Version:            version,
			}, cache, sessions, f, logger.Named("gateway"), gwOpts...)
			if err != nil {
				return fmt.Errorf("failed to create gateway: %w", err)
			}

			// Warm the home session so a bad token fails at startup
			warmCtx, cancel := context.WithTimeout(cmd.Context(), cfg.DialTimeout)
			_, err = sessions.Home(warmCtx)
			cancel()
			if err != nil {
				logger.Warn("Home datacenter session unavailable, will retry on demand", zap.Error(err))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- gw.ListenAndServe()
			}()

			logger.Info("Starting gateway",
				zap.String("address", cfg.ListenAddress),
				zap.Int("home_datacenter", cfg.HomeDatacenter),
				zap.Int("datacenters", len(cfg.Datacenters)),
				zap.Int64("chunk_size", cfg.ChunkSize))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down gateway")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := gw.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Gateway shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides listen_address)")

	return cmd
}
