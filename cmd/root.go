// Package cmd is the mnemo command-line surface: save/search/rules
// administration, the session lifecycle hooks and the long-lived server.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/config"
	"github.com/nextlevelbuilder/mnemo/internal/engine"
)

var (
	flagBase    string
	flagProject string
	flagVerbose bool
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "mnemo",
		Short:         "Per-user memory engine for a coding assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVar(&flagBase, "base", "", "base directory (default $MNEMO_DIR or ~/.mnemo)")
	root.PersistentFlags().StringVar(&flagProject, "project", "", "project label override")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(saveCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(maintainCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(indexCommitCmd())
	root.AddCommand(hookCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(clearCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// openEngine loads config and opens the engine with CLI overrides
// applied.
func openEngine() (*engine.Engine, error) {
	base, err := config.ResolveBase(flagBase)
	if err != nil {
		return nil, err
	}
	paths := config.Paths{Base: base}

	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = base
	if flagProject != "" {
		cfg.Project = flagProject
	}

	return engine.Open(cfg, clock.New())
}
