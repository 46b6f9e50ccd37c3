package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/modelregistry/pkg/client"
	"github.com/nainya/modelregistry/pkg/query"
)

type clientFlags struct {
	addr    string
	timeout time.Duration
	output  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "localhost:9090", "registry gRPC address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "per call timeout")
	cmd.Flags().StringVarP(&f.output, "output", "o", "yaml", "output format (yaml, json)")
}

func (f *clientFlags) dial() (*client.Client, error) {
	return client.Dial(f.addr, client.WithTimeout(f.timeout))
}

type resourceMap = map[string]any

func newListCmd() *cobra.Command {
	var (
		f          clientFlags
		parentKind string
		parentID   string
		filter     string
		orderBy    string
		sortOrder  string
		pageSize   int
	)
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List every resource of a kind from a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := query.ParseOrderField(orderBy)
			if err != nil {
				return err
			}
			dir, err := query.ParseDirection(sortOrder)
			if err != nil {
				return err
			}
			c, err := f.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			q := query.NewQueryBuilder().Where(filter).OrderBy(order, dir).PageSize(pageSize).Build()
			items, err := client.ListAll[resourceMap](cmd.Context(), c, args[0], client.Parent{Kind: parentKind, ID: parentID}, q)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), f.output, items)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&parentKind, "parent-kind", "", "kind of the container to list under")
	cmd.Flags().StringVar(&parentID, "parent-id", "", "id of the container to list under")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "filter expression")
	cmd.Flags().StringVar(&orderBy, "order-by", "ID", "ID, CREATE_TIME or LAST_UPDATE_TIME")
	cmd.Flags().StringVar(&sortOrder, "sort-order", "ASC", "ASC or DESC")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size used while fetching (0 uses the server default)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "get <kind> <id>",
		Short: "Fetch one resource from a running server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			item, err := client.Get[resourceMap](cmd.Context(), c, args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), f.output, item)
		},
	}
	f.register(cmd)
	return cmd
}

func newStatsCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show health, per kind counts and storage usage of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			health, err := c.Health(ctx)
			if err != nil {
				return err
			}
			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), f.output, map[string]any{
				"health": health,
				"stats":  stats,
			})
		},
	}
	f.register(cmd)
	return cmd
}
