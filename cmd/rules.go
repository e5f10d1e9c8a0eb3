package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and manage persistent rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesDeleteCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			rules, err := e.Store.ListRules()
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(rules)
			}
			if len(rules) == 0 {
				fmt.Println("No rules.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "LABEL\tSINCE\tCONTENT\n")
			for _, r := range rules {
				content := r.Content
				if len(content) > 70 {
					content = content[:67] + "..."
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Label, r.Date, content)
			}
			tw.Flush()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func rulesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <label> <content>",
		Short: "Add or replace a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.SaveRule(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("rule %q saved (%s)\n", args[0], res.ID)
			return nil
		},
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <label>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			deleted, err := e.Store.DeleteRule(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Printf("no rule %q\n", args[0])
				return nil
			}
			fmt.Printf("rule %q deleted\n", args[0])
			return nil
		},
	}
}
