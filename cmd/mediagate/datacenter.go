package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mediagate/pkg/datacenter"
	"mediagate/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func datacenterCmd() *cobra.Command {
	var ids []int

	cmd := &cobra.Command{
		Use:   "datacenter",
		Short: "Run emulated remote datacenters",
		Long: `Runs one gRPC server per configured datacenter, all backed by the
emulator bucket. Useful for local development and load testing of the gateway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			selected := cfg.DatacenterIDs()
			if len(ids) > 0 {
				selected = selected[:0]
				for _, id := range ids {
					if _, ok := cfg.Datacenters[types.DatacenterID(id)]; !ok {
						return fmt.Errorf("datacenter %d has no configured address", id)
					}
					selected = append(selected, types.DatacenterID(id))
				}
			}
			if len(selected) == 0 {
				return fmt.Errorf("no datacenters configured")
			}

			store, err := datacenter.OpenStore(cmd.Context(), cfg.Emulator.Bucket)
			if err != nil {
				return err
			}
			defer store.Close()

			servers := make([]*datacenter.Server, 0, len(selected))
			for _, id := range selected {
				srv, err := datacenter.New(datacenter.Config{
					ID:           id,
					Address:      cfg.Datacenters[id],
					APIToken:     cfg.APIToken,
					ClusterKey:   []byte(cfg.Emulator.ClusterKey),
					ReferenceTTL: cfg.Emulator.ReferenceTTL,
					FloodEvery:   cfg.Emulator.FloodEvery,
					FloodWait:    cfg.Emulator.FloodWait,
					Auth:         &cfg.TLS,
				}, store, logger.Named("dc"+id.String()))
				if err != nil {
					return fmt.Errorf("datacenter %s: %w", id, err)
				}
				servers = append(servers, srv)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			for _, srv := range servers {
				srv := srv
				g.Go(func() error {
					if err := srv.Start(); err != nil {
						return fmt.Errorf("datacenter %s: %w", srv.ID(), err)
					}
					return nil
				})
			}

			logger.Info("Datacenters running",
				zap.Int("count", len(servers)),
				zap.String("bucket", cfg.Emulator.Bucket))

			<-ctx.Done()
			logger.Info("Shutting down datacenters")
			for _, srv := range servers {
				srv.Stop()
			}

			return g.Wait()
		},
	}

	cmd.Flags().IntSliceVar(&ids, "id", nil, "datacenter ids to run (default: every configured datacenter)")

	return cmd
}
