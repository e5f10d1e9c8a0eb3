package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mnemo/internal/config"
	"github.com/nextlevelbuilder/mnemo/internal/replicate"
	"github.com/nextlevelbuilder/mnemo/internal/scanner"
	"github.com/nextlevelbuilder/mnemo/internal/watcher"
)

// serveCmd runs the long-lived server: replication ticks, transcript
// watching and scheduled maintenance.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background server (replication, watching, maintenance)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var sched *replicate.Scheduler
			if e.Cfg.Sync.Enabled {
				rep, err := buildReplicator(ctx, e)
				if err != nil {
					slog.Error("replication disabled", "error", err)
				} else {
					sched = replicate.NewScheduler(rep)
					sched.Start()
					defer sched.Stop()
				}
			}

			var w *watcher.Watcher
			if e.Cfg.TranscriptDir != "" {
				w, err = watcher.New(e.Cfg.TranscriptDir, func() {
					sc := scanner.New(e.Store, e.Embedder, e.Cfg.TranscriptDir,
						e.Paths.CursorFile(), e.SaveCaptured)
					if _, err := sc.Scan(); err != nil {
						slog.Warn("scheduled scan failed", "error", err)
					}
				})
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
			}

			// Config hot reload keeps the project label and transcript
			// location current without a restart.
			stopReload, err := config.WatchFile(ctx, e.Paths.ConfigFile(), func(cfg *config.Config) {
				e.Cfg.Project = cfg.Project
				e.Cfg.TranscriptDir = cfg.TranscriptDir
			})
			if err != nil {
				slog.Warn("config reload unavailable", "error", err)
			} else {
				defer stopReload()
			}

			go maintenanceLoop(ctx, e.Cfg.MaintenanceCron, func() {
				if _, err := e.Maintain(); err != nil {
					slog.Warn("scheduled maintenance failed", "error", err)
				}
			})

			slog.Info("server running")
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sig:
			case <-ctx.Done():
			}
			slog.Info("server shutting down")
			return nil
		},
	}
}

// maintenanceLoop fires the maintenance callback whenever the cron
// expression is due, checked once a minute.
func maintenanceLoop(ctx context.Context, expr string, run func()) {
	if expr == "" {
		return
	}
	gx := gronx.New()
	if !gx.IsValid(expr) {
		slog.Error("invalid maintenance cron expression", "expr", expr)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			due, err := gx.IsDue(expr, t)
			if err == nil && due {
				run()
			}
		}
	}
}
