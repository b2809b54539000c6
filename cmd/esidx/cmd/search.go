package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlectoTheFirst/esidx/internal/hydrate"
	"github.com/AlectoTheFirst/esidx/internal/repository"
	"github.com/AlectoTheFirst/esidx/internal/search"
)

type searchFlags struct {
	query       string
	queryString string
	sel         string
	indexBy     string
	models      bool
	size        int
	from        int
}

// searchEntry is one line of search output.
type searchEntry struct {
	Key      string         `json:"key"`
	Row      any            `json:"row,omitempty"`
	Document map[string]any `json:"document,omitempty"`
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	f := &searchFlags{}

	cmd := &cobra.Command{
		Use:   "search <index>",
		Short: "Run a query against an index and print the hits",
		Long: `Run a query against an index and print one JSON object per hit.

With --models every hit is hydrated into a record of the index's source
table; hits missing columns are re-read from the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, appOptions{out: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			repo, ok := a.repos[name]
			if !ok {
				return fmt.Errorf("index %q is not configured", name)
			}

			body := search.New().Limit(f.size, f.from).WithSource(true).QueryString(f.queryString)
			if f.query != "" {
				q, err := search.ParseQuery(f.query)
				if err != nil {
					return err
				}
				body.Query(q)
			}

			resp, err := a.client.Search(ctx, []string{name}, body.Build())
			if err != nil {
				return err
			}
			a.logger.Info("Search finished", "index", name, "took_ms", resp.Took, "total", resp.Hits.Total.Value)

			p := hydrate.New(resp.Raw).IndexBy(f.indexBy).Select(f.sel)
			enc := json.NewEncoder(cmd.OutOrStdout())

			if f.models {
				set, err := hydrate.Models[*repository.Record](ctx, p, repo)
				if err != nil {
					return err
				}
				for _, key := range set.Keys() {
					rec, _ := set.Get(key)
					if err := enc.Encode(searchEntry{Key: key, Document: rec.DocumentBody()}); err != nil {
						return err
					}
				}
				return nil
			}

			rows, err := p.Rows()
			if err != nil {
				return err
			}
			for _, key := range rows.Keys() {
				row, _ := rows.Get(key)
				if err := enc.Encode(searchEntry{Key: key, Row: row}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.query, "query", "q", "", "Query DSL as JSON")
	cmd.Flags().StringVar(&f.queryString, "query-string", "", "Lucene query string, combined with --query as a filter")
	cmd.Flags().StringVar(&f.sel, "select", "", `Project each hit: "a.b", "a.b.*" or a JSONPath starting with "$"`)
	cmd.Flags().StringVar(&f.indexBy, "index-by", "id", "Field keying the output; empty keys by position")
	cmd.Flags().BoolVar(&f.models, "models", false, "Hydrate hits into source records")
	cmd.Flags().IntVar(&f.size, "size", 10, "Number of hits to return")
	cmd.Flags().IntVar(&f.from, "from", 0, "Offset of the first hit")

	return cmd
}
