package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/engine"
	"github.com/bamsammich/ferry/internal/uri"
)

func (a *app) cpCmd() *cobra.Command {
	return a.transferCmd(
		"cp [flags] <source>... <destination>",
		"Copy files and directory trees",
		"cp",
		engine.Copy,
	)
}

func (a *app) mvCmd() *cobra.Command {
	cmd := a.transferCmd(
		"mv [flags] <source>... <destination>",
		"Move files and directory trees, renaming in place when possible",
		"mv",
		engine.Move,
	)
	cmd.Long = "Move renames within one server or bucket when no filters apply. " +
		"Otherwise it copies and then removes what was copied; sources with " +
		"failed entries keep those entries."
	return cmd
}

type transferFunc func(ctx context.Context, reg *backend.Registry, sources []uri.URI, dst uri.URI, opts engine.Options) (engine.Report, error)

func (a *app) transferCmd(use, short, name string, fn transferFunc) *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.applyConfigDefaults(cmd, a.cfg.Defaults); err != nil {
				return err
			}
			opts, err := f.options()
			if err != nil {
				return err
			}
			rawSources, rawDst, err := f.splitArgs(args)
			if err != nil {
				return err
			}
			p := newParser(a.cfg)
			sources, err := parseAll(p, rawSources)
			if err != nil {
				return err
			}
			dst, err := p.Parse(rawDst, uri.Local)
			if err != nil {
				return err
			}
			return a.execute(name, dst.String(), opts,
				func(ctx context.Context, reg *backend.Registry, opts engine.Options) (engine.Report, error) {
					return fn(ctx, reg, sources, dst, opts)
				})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var f selectionFlags
	cmd := &cobra.Command{
		Use:   "rm [flags] <target>...",
		Short: "Remove files and directory trees",
		Long: "Remove deletes the named targets. With --exclude/--include only matching " +
			"files are removed and directories left empty are pruned.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.applyConfigDefaults(cmd, a.cfg.Defaults); err != nil {
				return err
			}
			targets, err := parseAll(newParser(a.cfg), args)
			if err != nil {
				return err
			}
			return a.execute("rm", "", f.options(),
				func(ctx context.Context, reg *backend.Registry, opts engine.Options) (engine.Report, error) {
					return engine.Remove(ctx, reg, targets, opts)
				})
		},
	}
	f.register(cmd.Flags())
	return cmd
}
