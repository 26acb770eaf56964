package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpnshop/paycore/internal/pkg/metrics/counter"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show webhook outcome counters for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			dayStr, _ := cmd.Flags().GetString("day")
			day := time.Now().UTC()
			if dayStr != "" {
				parsed, err := time.Parse("2006-01-02", dayStr)
				if err != nil {
					return fmt.Errorf("invalid day %q, want YYYY-MM-DD", dayStr)
				}
				day = parsed
			}

			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			entries, err := counter.New(rt.redis()).Snapshot(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Printf("Webhooks on %s\n", day.Format("2006-01-02"))
			if len(entries) == 0 {
				fmt.Println("  (none)")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "  %s\t%s\t%d\n", e.Provider, e.Outcome, e.Count)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringP("day", "d", "", "Day in UTC (YYYY-MM-DD), default today")
	return cmd
}
