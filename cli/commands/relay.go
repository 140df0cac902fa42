package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
	"github.com/AshkanYarmoradi/ordermesh/stream"
)

// NewRelayCommand creates the relay command
func NewRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Copy the store's change stream to a broker",
		Long: `Read committed events from the store's change stream and publish them
to Kafka or Redis Streams, so routers can consume the broker instead of the
store. Batches are checkpointed only after the broker accepted them.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Relay events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			pub, err := rt.publisher()
			if err != nil {
				return err
			}
			source, err := rt.storeStream(ctx, cfg.Stream.Consumer+"-relay")
			if err != nil {
				return err
			}
			defer source.Close()

			rt.serveMetrics(ctx)

			relay := stream.NewRelay(pub,
				stream.WithRelayLogger(rt.logger.Named("relay")),
				stream.WithRetryDelay(cfg.Router.RedeliveryDelay),
			)
			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatInfo("Relaying "+cfg.Storage.Driver+" change stream to "+cfg.Stream.Source))
			return relay.Run(ctx, source)
		},
	})

	return cmd
}
