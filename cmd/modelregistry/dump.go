package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nainya/modelregistry/internal/resource"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/registry"
	"github.com/nainya/modelregistry/pkg/store"
)

func newDumpCmd() *cobra.Command {
	var (
		dbPath string
		walDir string
		kinds  []string
		output string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the contents of a registry database file",
		Long: `Opens the database directly, replaying its write-ahead log, and prints every
top level resource grouped by kind. The server must not be running on the same file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(store.Options{Path: dbPath, WALDir: walDir, Logger: zerolog.Nop()})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			reg, err := registry.New(ctx, st)
			if err != nil {
				return err
			}
			table, err := resource.New(reg)
			if err != nil {
				return err
			}

			out, err := dumpTable(ctx, table, kinds)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, out)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", "model-registry.db", "path to the registry database file")
	cmd.Flags().StringVar(&walDir, "wal-dir", "", "directory of the write-ahead log")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "kinds to dump (default: every top level kind)")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

// dumpTable lists every resource of the selected kinds. Run-owned kinds are
// reached through their runs.
func dumpTable(ctx context.Context, table *resource.Table, kinds []string) (map[string][]any, error) {
	if len(kinds) == 0 {
		for _, h := range table.Handlers() {
			if h.Singular != "" {
				kinds = append(kinds, h.Kind)
			}
		}
	}

	out := make(map[string][]any, len(kinds))
	for _, kind := range kinds {
		if _, err := table.Lookup(kind); err != nil {
			return nil, err
		}
		items, err := query.Collect[any](ctx, func(ctx context.Context, token string) ([]any, string, error) {
			page, err := table.List(ctx, kind, resource.Parent{}, query.Query{PageToken: token})
			if err != nil {
				return nil, "", err
			}
			return pageItems(page)
		})
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", kind, err)
		}
		out[kind] = items
	}
	return out, nil
}

// pageItems flattens a typed registry page into its items and token
func pageItems(page any) ([]any, string, error) {
	data, err := json.Marshal(page)
	if err != nil {
		return nil, "", err
	}
	var p struct {
		Items         []any  `json:"items"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "", err
	}
	return p.Items, p.NextPageToken, nil
}
