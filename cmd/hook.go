package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mnemo/internal/embed"
	"github.com/nextlevelbuilder/mnemo/internal/hooks"
	"github.com/nextlevelbuilder/mnemo/internal/scanner"
)

// hookCmd groups the supervisor lifecycle hooks. Every hook exits 0 on
// every path: a broken memory engine must never block the assistant.
func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Session lifecycle hooks (invoked by the supervisor)",
	}
	cmd.AddCommand(hookSessionStartCmd())
	cmd.AddCommand(hookStopCmd())
	cmd.AddCommand(hookPreCompactCmd())
	return cmd
}

func hookSessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-start",
		Short: "Emit the context packet for a fresh session",
		Run: func(cmd *cobra.Command, args []string) {
			e, err := openEngine()
			if err != nil {
				slog.Error("session-start: engine open failed", "error", err)
				return
			}
			defer e.Close()

			e.Embedder.Warm(embed.SetIntent, embed.SetCategory, embed.SetAnchor)

			if err := hooks.SessionStart(e, os.Stdin, os.Stdout); err != nil {
				slog.Error("session-start failed", "error", err)
			}
		},
	}
}

func hookStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Turn-end capture: transcript scan and handoff",
		Run: func(cmd *cobra.Command, args []string) {
			e, err := openEngine()
			if err != nil {
				slog.Error("stop: engine open failed", "error", err)
				return
			}
			defer e.Close()

			if err := hooks.Stop(e, os.Stdin); err != nil {
				slog.Error("stop hook failed", "error", err)
			}
		},
	}
}

func hookPreCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-compact",
		Short: "Pre-compaction safety-net scan and snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			e, err := openEngine()
			if err != nil {
				slog.Error("pre-compact: engine open failed", "error", err)
				return
			}
			defer e.Close()

			if err := hooks.PreCompact(e, os.Stdin); err != nil {
				slog.Error("pre-compact hook failed", "error", err)
			}
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one incremental transcript scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			sc := scanner.New(e.Store, e.Embedder, e.Cfg.TranscriptDir,
				e.Paths.CursorFile(), e.SaveCaptured)
			rep, err := sc.Scan()
			if err != nil {
				return err
			}
			cmd.Printf("scanned %s: %d messages, %d inserted, %d pending rules, %d debug patterns\n",
				rep.File, rep.Messages, rep.Inserted, rep.PendingRules, rep.DebugPatterns)
			return nil
		},
	}
}
