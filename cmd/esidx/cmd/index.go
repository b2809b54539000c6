package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/AlectoTheFirst/esidx/internal/indexer"
	"github.com/AlectoTheFirst/esidx/internal/lock"
	"github.com/AlectoTheFirst/esidx/internal/progress"
)

type lifecycleFlags struct {
	interactive   bool
	skipExists    bool
	skipNotExists bool
	workers       int
}

type lifecycleFunc func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return newLifecycleCmd(opts, "create [index]", "Create the index, or every configured index",
		func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error {
			return reg.Create(ctx, name, f.skipExists)
		})
}

func newPopulateCmd(opts *rootOptions) *cobra.Command {
	return newLifecycleCmd(opts, "populate [index]", "Index every source document into the index",
		func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error {
			return reg.Populate(ctx, name, f.skipNotExists)
		})
}

func newDestroyCmd(opts *rootOptions) *cobra.Command {
	return newLifecycleCmd(opts, "destroy [index]", "Delete the index, or every configured index",
		func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error {
			return reg.Destroy(ctx, name, f.skipNotExists)
		})
}

func newRebuildCmd(opts *rootOptions) *cobra.Command {
	return newLifecycleCmd(opts, "rebuild [index]", "Destroy, create and populate the index",
		func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error {
			return reg.Rebuild(ctx, name, f.skipExists, f.skipNotExists)
		})
}

func newUpgradeCmd(opts *rootOptions) *cobra.Command {
	return newLifecycleCmd(opts, "upgrade [index]", "Put the configured mappings on the index",
		func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error {
			return reg.Upgrade(ctx, name, f.skipNotExists)
		})
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return newLifecycleCmd(opts, "verify [index]", "Rebuild every index that does not exist",
		func(ctx context.Context, reg *indexer.Registry, name string, f *lifecycleFlags) error {
			missing, err := reg.Verify(ctx, name)
			if err != nil {
				return err
			}
			for _, m := range missing {
				if err := reg.Rebuild(ctx, m, f.skipExists, true); err != nil {
					return err
				}
			}
			return nil
		})
}

// newLifecycleCmd builds one index lifecycle command. Commands hold the
// project lock for their whole run and push metrics when they finish.
func newLifecycleCmd(opts *rootOptions, use, short string, run lifecycleFunc) *cobra.Command {
	f := &lifecycleFlags{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts, appOptions{
				out:         cmd.OutOrStdout(),
				interactive: f.interactive,
				workers:     f.workers,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := lock.Acquire(a.cfg.LockFile)
			if err != nil {
				return err
			}
			defer l.Release()

			err = run(ctx, a.registry, name, f)
			a.pushMetrics()
			return err
		},
	}

	cmd.Flags().BoolVar(&f.interactive, "interactive", progress.IsTerminal(os.Stdout), "Redraw populate progress in place")
	cmd.Flags().BoolVar(&f.skipExists, "skipExists", false, "Do not fail when the index already exists")
	cmd.Flags().BoolVar(&f.skipNotExists, "skipNotExists", false, "Do not fail when the index does not exist")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Documents indexed concurrently (overrides populate.workers)")

	return cmd
}
