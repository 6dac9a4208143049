package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/engine"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/uri"
)

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared slice.
type filterFlag struct {
	rules   *[]filter.Rule
	include bool
}

var _ pflag.Value = (*filterFlag)(nil)

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	build := filter.Exclude
	if f.include {
		build = filter.Include
	}
	r, err := build(val)
	if err != nil {
		return err
	}
	*f.rules = append(*f.rules, r)
	return nil
}

// selectionFlags are shared by every command that walks a tree.
type selectionFlags struct {
	recursive   bool
	noGlob      bool
	rules       []filter.Rule
	ignoreFiles []string
	concurrency int
}

func (s *selectionFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&s.recursive, "recursive", "r", false, "descend into directories")
	fs.BoolVar(&s.noGlob, "no-glob", false, "treat *, ?, [ and { in sources literally")
	fs.Var(&filterFlag{rules: &s.rules}, "exclude", "exclude entries matching PATTERN (repeatable)")
	fs.Var(&filterFlag{rules: &s.rules, include: true}, "include",
		"re-include entries matching PATTERN (repeatable, last match wins)")
	fs.StringArrayVar(&s.ignoreFiles, "ignore-file", nil,
		"read gitignore-style rules from files with this NAME in each directory (repeatable)")
	fs.IntVarP(&s.concurrency, "concurrency", "j", 0, "number of parallel transfers (default 4)")
}

// transferFlags extend selectionFlags for cp and mv.
type transferFlags struct {
	selectionFlags
	update          bool
	resume          bool
	targetDir       string
	noTargetDir     bool
	listConcurrency int
	bwLimit         string
	verify          bool
}

func (t *transferFlags) register(fs *pflag.FlagSet) {
	t.selectionFlags.register(fs)
	fs.BoolVarP(&t.update, "update", "u", false, "skip files whose destination is not older than the source")
	fs.BoolVarP(&t.resume, "continue", "c", false, "resume partially transferred files")
	fs.StringVarP(&t.targetDir, "target-directory", "t", "", "copy all sources into DIRECTORY")
	fs.BoolVarP(&t.noTargetDir, "no-target-directory", "T", false, "treat the destination as the exact final path")
	fs.IntVar(&t.listConcurrency, "list-concurrency", 0, "parallel destination lookups while planning")
	fs.StringVar(&t.bwLimit, "bwlimit", "", "bandwidth limit in bytes/s (e.g. 100M, 1G)")
	fs.BoolVar(&t.verify, "verify", false, "verify BLAKE3 checksums after each copy")
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
// Config exclude rules always apply and come before CLI rules, so the CLI wins.
func (s *selectionFlags) applyConfigDefaults(cmd *cobra.Command, d config.DefaultsConfig) error {
	flags := cmd.Flags()
	if !flags.Changed("no-glob") && d.Glob != nil {
		s.noGlob = !*d.Glob
	}
	if !flags.Changed("concurrency") && d.Concurrency != nil {
		s.concurrency = *d.Concurrency
	}
	if !flags.Changed("ignore-file") && d.IgnoreFiles != nil {
		s.ignoreFiles = d.IgnoreFiles
	}
	if len(d.Exclude) > 0 {
		base := make([]filter.Rule, 0, len(d.Exclude)+len(s.rules))
		for _, p := range d.Exclude {
			r, err := filter.Exclude(p)
			if err != nil {
				return fmt.Errorf("config exclude %q: %w", p, err)
			}
			base = append(base, r)
		}
		s.rules = append(base, s.rules...)
	}
	return nil
}

func (t *transferFlags) applyConfigDefaults(cmd *cobra.Command, d config.DefaultsConfig) error {
	if err := t.selectionFlags.applyConfigDefaults(cmd, d); err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("update") && d.Update != nil {
		t.update = *d.Update
	}
	if !flags.Changed("continue") && d.Continue != nil {
		t.resume = *d.Continue
	}
	if !flags.Changed("list-concurrency") && d.ListConcurrency != nil {
		t.listConcurrency = *d.ListConcurrency
	}
	if !flags.Changed("bwlimit") && d.BWLimit != nil {
		t.bwLimit = *d.BWLimit
	}
	if !flags.Changed("verify") && d.Verify != nil {
		t.verify = *d.Verify
	}
	return nil
}

func (s *selectionFlags) options() engine.Options {
	return engine.Options{
		Recursive:     s.recursive,
		GlobExpansion: !s.noGlob,
		Filters:       s.rules,
		IgnoreFiles:   s.ignoreFiles,
		Concurrency:   s.concurrency,
	}
}

func (t *transferFlags) options() (engine.Options, error) {
	opts := t.selectionFlags.options()
	opts.UpdateOnly = t.update
	opts.ContinuePartial = t.resume
	opts.ListConcurrency = t.listConcurrency
	opts.Verify = t.verify

	switch {
	case t.targetDir != "" && t.noTargetDir:
		return opts, errors.New("cannot combine --target-directory and --no-target-directory")
	case t.targetDir != "":
		opts.TargetMode = uri.IntoDirectory
	case t.noTargetDir:
		opts.TargetMode = uri.Exact
	}

	if t.bwLimit != "" {
		n, err := filter.ParseSize(t.bwLimit)
		if err != nil {
			return opts, fmt.Errorf("invalid --bwlimit: %w", err)
		}
		opts.BWLimit = n
	}
	return opts, nil
}

// splitArgs separates sources from the destination. With -t every
// positional argument is a source.
func (t *transferFlags) splitArgs(args []string) (sources []string, dst string, err error) {
	if t.targetDir != "" {
		if len(args) == 0 {
			return nil, "", errors.New("missing source operand")
		}
		return args, t.targetDir, nil
	}
	if len(args) < 2 {
		return nil, "", errors.New("requires at least one source and a destination")
	}
	return args[:len(args)-1], args[len(args)-1], nil
}

// newParser builds a URI parser that resolves relative storage: paths
// against the configured host and home directory.
func newParser(cfg config.Config) uri.Parser {
	p := uri.NewParser()
	p.StorageHost = cfg.Storage.Host
	p.StorageHome = strings.FieldsFunc(cfg.Storage.Home, func(r rune) bool { return r == '/' })
	return p
}

func parseAll(p uri.Parser, raw []string) ([]uri.URI, error) {
	out := make([]uri.URI, 0, len(raw))
	for _, r := range raw {
		u, err := p.Parse(r, uri.Local)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
