package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
	"github.com/AshkanYarmoradi/ordermesh/rpc"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cart and order gRPC APIs",
		Long: `Serve GetCart and CreateOrder over gRPC from the configured store.

Routers started with router.cart_addr and router.order_addr pointing here
place orders through this process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Service.GRPCAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			carts, err := rt.cartClient("")
			if err != nil {
				return err
			}
			orders, err := rt.orderClient("")
			if err != nil {
				return err
			}

			lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Service.GRPCAddr, err)
			}

			srv := grpc.NewServer(grpc.UnaryInterceptor(rpc.TraceUnaryInterceptor(rt.propagator)))
			rpc.RegisterCartService(srv, carts)
			rpc.RegisterOrderService(srv, orders)

			rt.serveMetrics(ctx)

			go func() {
				<-ctx.Done()
				srv.GracefulStop()
			}()

			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatInfo("Serving gRPC on "+lis.Addr().String()))
			rt.logger.Info("gRPC server listening", "addr", lis.Addr().String())
			return srv.Serve(lis)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides service.grpc_addr)")

	return cmd
}
