package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vpnshop/paycore/internal/pkg/billing"
)

func issuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Inspect and resolve reconciliation issues",
	}
	cmd.AddCommand(issuesListCmd())
	cmd.AddCommand(issuesResolveCmd())
	return cmd
}

func issuesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reconciliation issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			filter := billing.IssueFilter{}
			filter.Kind, _ = cmd.Flags().GetString("kind")
			filter.Provider, _ = cmd.Flags().GetString("provider")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if all, _ := cmd.Flags().GetBool("all"); !all {
				open := false
				filter.Resolved = &open
			}

			issues, err := rt.service.ListIssues(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Println("No issues")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPROVIDER\tORDER\tEXPECTED\tRECEIVED\tRESOLVED\tCREATED")
			for _, is := range issues {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d %s\t%d %s\t%t\t%s\n",
					is.ID, is.Kind, is.Provider, is.OrderID,
					is.ExpectedAmountMinor, is.ExpectedCurrency,
					is.ReceivedAmountMinor, is.ReceivedCurrency,
					is.Resolved, is.CreatedAt.UTC().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringP("kind", "k", "", "Filter by issue kind")
	cmd.Flags().StringP("provider", "p", "", "Filter by provider")
	cmd.Flags().IntP("limit", "n", 50, "Maximum results")
	cmd.Flags().BoolP("all", "a", false, "Include resolved issues")
	return cmd
}

func issuesResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [id]",
		Short: "Mark an issue as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid issue id %q", args[0])
			}

			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			note, _ := cmd.Flags().GetString("note")
			by, _ := cmd.Flags().GetString("by")
			if err := rt.service.ResolveIssue(cmd.Context(), uint(id), by, note); err != nil {
				return err
			}
			fmt.Printf("Issue %d resolved\n", id)
			return nil
		},
	}
	cmd.Flags().String("note", "", "Resolution note")
	cmd.Flags().String("by", "paymentctl", "Operator name stored on the issue")
	return cmd
}
