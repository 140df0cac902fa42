package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/order"
	"github.com/AshkanYarmoradi/ordermesh/domain/restaurant"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
	"github.com/AshkanYarmoradi/ordermesh/domain/widget"
)

// inspector prints one aggregate type.
type inspector func(ctx context.Context, rt *runtime, out io.Writer, id string) error

var inspectors = map[string]inspector{
	widget.AggregateType: func(ctx context.Context, rt *runtime, out io.Writer, id string) error {
		return inspectAggregate(ctx, out, widget.NewRepository(rt.store, nil, rt.repositoryOptions()...), id)
	},
	tenant.AggregateType: func(ctx context.Context, rt *runtime, out io.Writer, id string) error {
		return inspectAggregate(ctx, out, tenant.NewRepository(rt.store, nil, rt.repositoryOptions()...), id)
	},
	cart.AggregateType: func(ctx context.Context, rt *runtime, out io.Writer, id string) error {
		return inspectAggregate(ctx, out, cart.NewRepository(rt.store, nil, rt.repositoryOptions()...), id)
	},
	order.AggregateType: func(ctx context.Context, rt *runtime, out io.Writer, id string) error {
		return inspectAggregate(ctx, out, order.NewRepository(rt.store, nil, rt.repositoryOptions()...), id)
	},
	restaurant.AggregateType: func(ctx context.Context, rt *runtime, out io.Writer, id string) error {
		return inspectAggregate(ctx, out, restaurant.NewRepository(rt.store, nil, rt.repositoryOptions()...), id)
	},
}

func aggregateTypes() []string {
	types := make([]string, 0, len(inspectors))
	for t := range inspectors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewInspectCommand creates the inspect command
func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <type> <id>",
		Short: "Show an aggregate's state and event log",
		Long: `Load an aggregate, then print its materialized state, version and events.

Types: ` + strings.Join(aggregateTypes(), ", ") + `

Examples:
  ordermesh inspect cart 0b7c7e1e-6c1e-4f55-9b4a-1f1f6b8d2c3a`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspect, ok := inspectors[args[0]]
			if !ok {
				return fmt.Errorf("unknown aggregate type %q (want one of %s)", args[0], strings.Join(aggregateTypes(), ", "))
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			return inspect(cmd.Context(), rt, cmd.OutOrStdout(), args[1])
		},
	}
}

func inspectAggregate[T any, A ordermesh.Root[T]](ctx context.Context, out io.Writer, repo *ordermesh.Repository[T, A], rawID string) error {
	id, err := ordermesh.ParseID[T](rawID)
	if err != nil {
		return err
	}

	agg, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	state, err := agg.MarshalState()
	if err != nil {
		return err
	}
	events, err := repo.History(ctx, id)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, state, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(state)
	}

	fmt.Fprintln(out, styles.FormatKeyValue("Type", repo.AggregateType()))
	fmt.Fprintln(out, styles.FormatKeyValue("ID", id.String()))
	fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatUint(agg.Version(), 10)))
	fmt.Fprintln(out, styles.FormatKeyValue("Mode", repo.Materialization().String()))
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Box().Render(pretty.String()))
	fmt.Fprintln(out)

	t := styles.NewTable("Seq", "Type", "Event ID", "Timestamp")
	for _, e := range events {
		t.Row(strconv.FormatUint(e.Sequence, 10), e.Type(), e.ID, e.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
