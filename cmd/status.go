package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.Status()
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(st)
			}
			fmt.Printf("entries: %d", st.Total)
			if st.Total > 0 {
				fmt.Printf(" (%s .. %s)", st.DateRange[0], st.DateRange[1])
			}
			fmt.Println()
			for _, tier := range []string{"longterm", "working", "ephemeral"} {
				if n := st.TierDistribution[tier]; n > 0 {
					fmt.Printf("  %s: %d\n", tier, n)
				}
			}
			fmt.Printf("archived: %d\n", st.ArchivedCount)
			fmt.Printf("active patterns: %d\n", st.ActivePatterns)
			fmt.Printf("storage: %d bytes\n", st.StorageBytes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func maintainCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run the lifecycle passes: decay, demote, promote, consolidate",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := e.Maintain()
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(rep)
			}
			fmt.Printf("decayed=%d demoted=%d promoted_stable=%d promoted_frequent=%d consolidated=%d\n",
				rep.Decayed, rep.Demoted, rep.PromotedStable, rep.PromotedFrequent, rep.Consolidated)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func indexCommitCmd() *cobra.Command {
	var (
		hash    string
		subject string
		project string
	)
	cmd := &cobra.Command{
		Use:   "index-commit",
		Short: "Index a commit: reads changed file paths from stdin, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				if f := strings.TrimSpace(sc.Text()); f != "" {
					files = append(files, f)
				}
			}
			if err := sc.Err(); err != nil {
				return err
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.IndexCommit(project, hash, subject, files)
			if err != nil {
				return err
			}
			fmt.Printf("indexed commit %s as %s (%d files)\n", hash, res.ID, len(files))
			return nil
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "commit hash")
	cmd.Flags().StringVar(&subject, "subject", "", "commit subject line")
	cmd.Flags().StringVar(&project, "commit-project", "", "project the commit belongs to")
	cmd.MarkFlagRequired("hash")
	return cmd
}
