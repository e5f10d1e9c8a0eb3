package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/engine"
	"github.com/nextlevelbuilder/mnemo/internal/replicate"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Cross-host replication over the shared object store",
	}
	cmd.AddCommand(syncNowCmd())
	cmd.AddCommand(syncStatusCmd())
	return cmd
}

func syncNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Run one push/pull cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := buildReplicator(cmd.Context(), e)
			if err != nil {
				return err
			}
			if err := rep.Cycle(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("sync complete")
			return nil
		},
	}
}

func syncStatusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show replication state",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := replicate.LoadState(e.Paths.SyncStateFile())
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(st)
			}
			fmt.Printf("machine: %s (%s)\n", st.Config.MachineID, st.Config.MachineName)
			fmt.Printf("enabled: %v\n", st.Config.Enabled)
			fmt.Printf("last push: %s\n", orNever(st.LastPushAt))
			fmt.Printf("last pull: %s\n", orNever(st.LastPullAt))
			for mid, lines := range st.RemoteCursors {
				fmt.Printf("  %s: %d lines consumed\n", mid, lines)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

// buildReplicator wires the S3 blob store and this host's identity,
// minting and persisting a machine id on first use.
func buildReplicator(ctx context.Context, e *engine.Engine) (*replicate.Replicator, error) {
	sync := e.Cfg.Sync
	if !sync.Enabled {
		return nil, fmt.Errorf("sync is not enabled in config")
	}

	statePath := e.Paths.SyncStateFile()
	st, err := replicate.LoadState(statePath)
	if err != nil {
		return nil, err
	}

	machineID := sync.MachineID
	if machineID == "" {
		machineID = st.Config.MachineID
	}
	if machineID == "" {
		machineID = clock.MintID()
	}
	name := sync.Name
	if name == "" {
		name, _ = os.Hostname()
	}

	if st.Config.MachineID != machineID || st.Config.MachineName != name ||
		st.Config.Bucket != sync.Bucket || !st.Config.Enabled {
		st.Config = replicate.StateConfig{
			MachineID:   machineID,
			MachineName: name,
			Bucket:      sync.Bucket,
			Prefix:      sync.Prefix,
			Enabled:     true,
		}
		if err := st.Save(statePath); err != nil {
			return nil, err
		}
	}

	blob, err := replicate.NewS3Store(ctx, sync.Bucket, sync.Prefix, sync.Region)
	if err != nil {
		return nil, err
	}

	return replicate.New(e.Store, e.Embedder, blob, e.Clock,
		statePath, e.Paths.SyncMirror(machineID), machineID, name), nil
}

func orNever(s string) string {
	if s == "" {
		return "never"
	}
	return s
}
