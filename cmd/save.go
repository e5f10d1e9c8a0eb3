package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mnemo/internal/engine"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

func saveCmd() *cobra.Command {
	var (
		entryType string
		tags      []string
		tier      string
		pinned    bool
		agentID   string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save an entry (content from arg or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := ""
			if len(args) == 1 {
				content = args[0]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				content = string(data)
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.Save(engine.SaveRequest{
				Content: content,
				Type:    entryType,
				Tags:    tags,
				Tier:    tier,
				Pinned:  pinned,
				AgentID: agentID,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			fmt.Printf("saved %s (%s, tier %s)\n", res.ID, entryType, res.Tier)
			if res.PatternDetected != "" {
				fmt.Printf("recurring issue pattern: %s\n", res.PatternDetected)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&entryType, "type", "t", store.TypeInsight,
		"entry type: "+strings.Join([]string{store.TypeDecision, store.TypeProgress,
			store.TypeIssue, store.TypeHandoff, store.TypeInsight, store.TypeReference}, ", "))
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&tier, "tier", "", "tier override: ephemeral, working, longterm")
	cmd.Flags().BoolVar(&pinned, "pin", false, "pin the entry")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func clearCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe all entries, vectors, patterns and file pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear without --yes")
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.Store.ClearAll(); err != nil {
				return err
			}
			fmt.Println("store cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the wipe")
	return cmd
}
