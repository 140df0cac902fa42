package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/order"
	"github.com/AshkanYarmoradi/ordermesh/router"
	"github.com/AshkanYarmoradi/ordermesh/router/grpcclient"
	snsrouter "github.com/AshkanYarmoradi/ordermesh/router/sns"
	"github.com/AshkanYarmoradi/ordermesh/router/webhook"
)

// NewRouterCommand creates the router command
func NewRouterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Route committed events to downstream services",
		Long: `Consume the change stream and dispatch every record to its handlers.

A batch is acknowledged only when every handler succeeded for every record
in it. Otherwise the whole batch is delivered again after the redelivery
delay, so handlers must tolerate repeats.

Examples:
  ordermesh router run        # Consume until interrupted
  ordermesh router handlers   # List the configured handlers`,
	}

	cmd.AddCommand(newRouterRunCommand())
	cmd.AddCommand(newRouterHandlersCommand())

	return cmd
}

func newRouterRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the change stream until interrupted",
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

			r, err := rt.newRouter()
			if err != nil {
				return err
			}
			source, err := rt.routerSource(ctx)
			if err != nil {
				return err
			}
			defer source.Close()

			rt.serveMetrics(ctx)

			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatInfo(fmt.Sprintf("Routing %s stream to %v", cfg.Stream.Source, r.Handlers())))
			rt.logger.Info("Router running", "source", cfg.Stream.Source, "consumer", cfg.Stream.Consumer)
			return r.Run(ctx, source)
		},
	}
}

func newRouterHandlersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List the handlers the configuration enables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			r, err := rt.newRouter()
			if err != nil {
				return err
			}

			t := styles.NewTable("Handler")
			for _, name := range r.Handlers() {
				t.Row(name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

// newRouter builds the router and its handlers from the config. The cart and
// order clients call remote services when addresses are set and the local
// store otherwise.
func (rt *runtime) newRouter() (*router.Router, error) {
	rc := rt.cfg.Router

	carts, err := rt.cartClient(rc.CartAddr)
	if err != nil {
		return nil, err
	}
	orders, err := rt.orderClient(rc.OrderAddr)
	if err != nil {
		return nil, err
	}

	opts := []router.Option{
		router.WithHandler(router.NewPlaceOrderHandler(carts, orders)),
		router.WithHandlerTimeout(rc.HandlerTimeout),
		router.WithRedeliveryDelay(rc.RedeliveryDelay),
		router.WithPropagator(rt.propagator),
		router.WithTracerProvider(otel.GetTracerProvider()),
		router.WithMetrics(rt.metrics),
		router.WithLogger(rt.logger.Named("router")),
	}
	if rc.SNSTopicARN != "" {
		opts = append(opts, router.WithHandler(snsrouter.NewForwardHandler(rt.snsClient(), rc.SNSTopicARN)))
	}
	if rc.WebhookURL != "" {
		opts = append(opts, router.WithHandler(webhook.NewForwardHandler(rc.WebhookURL)))
	}

	return router.New(opts...), nil
}

func (rt *runtime) cartClient(addr string) (router.CartClient, error) {
	if addr == "" {
		return router.LocalCartClient{
			Service: cart.NewService(cart.NewRepository(rt.store, nil, rt.repositoryOptions()...)),
		}, nil
	}
	conn, err := grpcclient.Dial(addr)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return conn.Close() })
	return grpcclient.NewCartClient(conn, grpcclient.WithPropagator(rt.propagator)), nil
}

func (rt *runtime) orderClient(addr string) (router.OrderClient, error) {
	if addr == "" {
		return router.LocalOrderClient{
			Service: order.NewService(order.NewRepository(rt.store, nil, rt.repositoryOptions()...)),
		}, nil
	}
	conn, err := grpcclient.Dial(addr)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return conn.Close() })
	return grpcclient.NewOrderClient(conn, grpcclient.WithPropagator(rt.propagator)), nil
}
