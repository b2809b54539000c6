package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDocumentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Index or remove a single source record",
	}
	cmd.AddCommand(newDocumentActionCmd(opts, "index", "Index the record into the index that accepts it", false))
	cmd.AddCommand(newDocumentActionCmd(opts, "remove", "Remove the record from the index that accepts it", true))
	return cmd
}

func newDocumentActionCmd(opts *rootOptions, use, short string, remove bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <index> <id>",
		Short: short,
		Long: short + `.

The record is read from the source table of <index> and routed to the first
configured index accepting records of that table.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, appOptions{out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			defer a.Close()

			repo, ok := a.repos[args[0]]
			if !ok {
				return fmt.Errorf("index %q is not configured", args[0])
			}

			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q: %w", args[1], err)
			}

			if remove {
				// removal needs the id only; the row may be gone already
				rec := repo.New()
				rec.ID = id
				err = a.registry.Remove(ctx, rec)
			} else {
				var doc any
				if doc, err = repo.Get(ctx, id); err == nil {
					err = a.registry.Index(ctx, doc)
				}
			}
			a.pushMetrics()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d\n", use, repo.Table(), id)
			return nil
		},
	}
}
