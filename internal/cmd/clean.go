package cmd

import (
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redleafbio/hemescreen/internal/observability"
	"github.com/redleafbio/hemescreen/pkg/curate"
	"github.com/redleafbio/hemescreen/pkg/ledger"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover per-job working directories",
	Long: `Remove working directories left under <out>/work. By default only
directories of molecules with a finished ledger outcome are removed,
so failed-job scratch kept for debugging survives unless --all is
given.

Example:
  hemescreen clean --out runs/p450
  hemescreen clean --out runs/p450 --all`,
	RunE: runClean,
}

var (
	cleanOut string
	cleanAll bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringVarP(&cleanOut, "out", "o", "", "Output directory of the screen (required)")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Also remove scratch of failed and unfinished jobs")

	_ = cleanCmd.MarkFlagRequired("out")
}

func runClean(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	workRoot := filepath.Join(cleanOut, "work")

	removable := func(string) bool { return true }
	if !cleanAll {
		store, err := ledger.Open(cmd.Context(), filepath.Join(cleanOut, ledger.DefaultFileName))
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Cannot open ledger", err)
		}
		defer func() { _ = store.Close() }()

		removable = func(id string) bool {
			entry, err := store.Get(cmd.Context(), id)
			return err == nil && entry.State.Finished()
		}
	}

	removed, err := curate.Sweep(workRoot, removable)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Clean failed", err)
	}
	log.Info("Cleaned working directories",
		zap.Int("removed", removed),
		zap.String("work", workRoot))
	return nil
}
