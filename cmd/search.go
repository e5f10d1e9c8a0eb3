package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mnemo/internal/rank"
)

func searchCmd() *cobra.Command {
	var (
		entryType       string
		days            int
		limit           int
		tier            string
		project         string
		mode            string
		includeArchived bool
		jsonOut         bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search entries with hybrid lexical and semantic ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			results, err := e.Search(args[0], rank.Options{
				Type:            entryType,
				Days:            days,
				Limit:           limit,
				Tier:            tier,
				Project:         project,
				IncludeArchived: includeArchived,
				Mode:            rank.Mode(mode),
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(results)
			}

			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "DATE\tTYPE\tTIER\tCONTENT\n")
			for _, r := range results {
				content := r.Content
				if len(content) > 80 {
					content = content[:77] + "..."
				}
				fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", r.Date, r.Time, r.Type, r.Tier, content)
			}
			tw.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&entryType, "type", "t", "", "filter by entry type")
	cmd.Flags().IntVar(&days, "days", 0, "restrict to the last N days")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().StringVar(&tier, "tier", "", "filter by tier")
	cmd.Flags().StringVar(&project, "filter-project", "", "filter by project")
	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: hybrid, fast, semantic")
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}
