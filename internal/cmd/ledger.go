package cmd

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/redleafbio/hemescreen/pkg/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the resume ledger of a screen",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded molecule outcomes",
	Long: `List every molecule outcome recorded in the run's ledger, with its
state, run id, and failure reason if any.

Example:
  hemescreen ledger list --out runs/p450
  hemescreen ledger list --out runs/p450 --state failed`,
	RunE: runLedgerList,
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show outcome counts by state",
	RunE:  runLedgerStats,
}

var (
	ledgerOut   string
	ledgerState string
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd)

	ledgerCmd.PersistentFlags().StringVarP(&ledgerOut, "out", "o", "", "Output directory of the screen (required)")
	ledgerListCmd.Flags().StringVar(&ledgerState, "state", "", "Only show molecules in this state")

	_ = ledgerCmd.MarkPersistentFlagRequired("out")
}

func openLedger(cmd *cobra.Command) (*ledger.Store, error) {
	store, err := ledger.Open(cmd.Context(), filepath.Join(ledgerOut, ledger.DefaultFileName))
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Cannot open ledger", err)
	}
	return store, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	store, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read ledger", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MOLECULE\tSTATE\tRUN\tUPDATED\tREASON")
	for _, e := range entries {
		if ledgerState != "" && string(e.State) != ledgerState {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.MoleculeID, e.State, e.RunID, e.UpdatedAt.Format("2006-01-02 15:04:05"), e.Message)
	}
	return w.Flush()
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	store, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	counts, err := store.Counts(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read ledger", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tCOUNT")
	for _, state := range []ledger.State{
		ledger.StatePending, ledger.StateRunning, ledger.StateSucceeded,
		ledger.StateCurated, ledger.StateFailed, ledger.StateTimedOut,
	} {
		if n := counts[state]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\n", state, n)
		}
	}
	return w.Flush()
}
