package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/thiremani/cexi/config"
	"github.com/thiremani/cexi/extension"
	"github.com/thiremani/cexi/manifest"
	"github.com/thiremani/cexi/toolchain"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgFile string
	verbose bool

	cfg     *config.Config
	cfgPath string
	logger  *log.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cexi",
		Short: "Build inline C extensions",
		Long: titleStyle.Render("cexi") + subtitleStyle.Render(" - inline C functions, compiled and loaded on demand") + `

Extensions are declared in *.cexi.toml manifests. Each one renders to a
single C translation unit whose fingerprint decides whether a build in
its persistent directory can be reused.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/cexi/cexi.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log compiler commands and cache decisions")

	root.AddCommand(
		a.renderCommand(),
		a.revisionCommand(),
		a.buildCommand(),
		a.cleanCommand(),
		a.configCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, path, err := config.Load(config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return err
	}
	level := cfg.Level()
	if a.verbose {
		level = log.DebugLevel
	}
	a.cfg, a.cfgPath = cfg, path
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Prefix: "cexi", Level: level})
	return nil
}

func (a *app) load(path string) (*extension.Extension, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	ext, _, err := m.Build(a.options()...)
	return ext, err
}

func (a *app) options() []extension.Option {
	driver := extension.NewDriver(a.cfg.Compiler(a.logger), a.cfg.Cache, a.logger)
	return []extension.Option{extension.WithDriver(driver), extension.WithLogger(a.logger)}
}

func (a *app) renderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render <manifest>",
		Short: "Print the C translation unit of a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := a.load(args[0])
			if err != nil {
				return err
			}
			src, err := ext.Render()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), src)
			return nil
		},
	}
}

func (a *app) revisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revision <manifest>...",
		Short: "Print the fingerprint of each manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				ext, err := a.load(path)
				if err != nil {
					return err
				}
				rev, err := ext.Revision()
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Fprintln(cmd.OutOrStdout(), rev)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", path, rev)
			}
			return nil
		},
	}
}

// manifestPaths expands directories into the manifests they hold.
func manifestPaths(args []string) ([]string, error) {
	if len(args) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		args = []string{cwd}
	}
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := manifest.Find(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *%s files found in %s", manifest.Suffix, strings.Join(args, ", "))
	}
	return paths, nil
}

func (a *app) buildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build [manifest|dir]...",
		Short: "Compile manifests into their persistent directories",
		Long: `Compile manifests into their persistent directories.

Directories are searched for *.cexi.toml files; with no arguments the
current directory is used. A manifest without a dir is refused, since an
ephemeral build would be discarded right away. Up-to-date artifacts are
loaded and kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := manifestPaths(args)
			if err != nil {
				return err
			}
			var errs []error
			for _, path := range paths {
				if err := a.build(cmd.Context(), path); err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render("✗ "+path))
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ "+path))
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) build(ctx context.Context, path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	if m.ResolvedDir() == "" {
		return errors.New("manifest has no dir, nothing would be kept")
	}
	ext, _, err := m.Build(a.options()...)
	if err != nil {
		return err
	}
	if err := ext.Prepare(ctx); err != nil {
		var cerr *extension.CompileError
		if errors.As(err, &cerr) {
			a.logger.Error("compiler failed", "module", cerr.Module, "step", cerr.Step, "output", cerr.Output)
		}
		return err
	}
	if ext.Builds() == 0 {
		a.logger.Info("up to date", "module", ext.Name(), "dir", ext.Dir())
	}
	return nil
}

func (a *app) cleanCommand() *cobra.Command {
	var keep int
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove old runtime header caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := toolchain.CleanRuntimes(a.cfg.Cache, keep, minAge, a.logger)
			if err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), subtitleStyle.Render("removed ")+p)
			}
			if len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), subtitleStyle.Render("nothing to remove"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 1, "number of most recent runtimes to keep")
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "only remove runtimes older than this")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			source := a.cfgPath
			if source == "" {
				source = "(defaults)"
			}
			rows := [][2]string{
				{"file", source},
				{config.KeyCC, a.cfg.CC},
				{config.KeyCache, a.cfg.Cache},
				{config.KeyOptLevel, a.cfg.OptLevel},
				{config.KeyFlags, strings.Join(a.cfg.Flags, " ")},
				{config.KeyIncludeDirs, strings.Join(a.cfg.IncludeDirs, string(filepath.ListSeparator))},
				{config.KeyLogLevel, a.cfg.LogLevel},
			}
			for _, r := range rows {
				fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render(r[0])+valueStyle.Render(r[1]))
			}
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
