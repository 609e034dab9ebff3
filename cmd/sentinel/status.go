package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"InfraSentinel/internal/ledger"
	"InfraSentinel/internal/model"
	"InfraSentinel/internal/notifier"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the rounds and balances held in the ledger state file",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := ledger.New(model.Principal(cfg.Admin), ledger.Config{StateFile: cfg.Ledger.StateFile}, nil)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), l.Snapshot())
	},
}

func printStatus(out io.Writer, snap ledger.Snapshot) error {
	fmt.Fprintf(out, "Balance:           %s\n", notifier.FormatWei(snap.Balance))
	fmt.Fprintf(out, "Recorded deposits: %s\n", notifier.FormatWei(snap.RecordedDeposits))
	fmt.Fprintf(out, "Rounds:            %d\n\n", len(snap.Rounds))
	if len(snap.Rounds) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tTYPE\tSTATUS\tDEPOSITED\tTARGET\tRELEASED\tINVESTORS")
	for _, r := range snap.Rounds {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.RoundID, r.ProjectID.Short(), r.Type, r.Status,
			notifier.FormatWei(r.TotalDeposited), notifier.FormatWei(r.TargetAmount),
			notifier.FormatWei(r.TotalReleased), r.InvestorCount)
	}
	return w.Flush()
}
