package cmd

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redleafbio/hemescreen/internal/observability"
	"github.com/redleafbio/hemescreen/pkg/mol2"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a multi-molecule library into per-molecule files",
	Long: `Split a multi-molecule MOL2 library into one file per molecule,
named after the sanitized molecule id. Malformed blocks are skipped
and reported.

Example:
  hemescreen split -l ligands.mol2 -o split/`,
	RunE: runSplit,
}

var (
	splitLibrary string
	splitOut     string
)

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().StringVarP(&splitLibrary, "library", "l", "", "Ligand library MOL2 path (required)")
	splitCmd.Flags().StringVarP(&splitOut, "out", "o", "", "Output directory (required)")

	_ = splitCmd.MarkFlagRequired("library")
	_ = splitCmd.MarkFlagRequired("out")
}

func runSplit(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger

	splitter, err := mol2.Open(splitLibrary)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read library", err)
	}
	defer func() { _ = splitter.Close() }()

	if err := os.MkdirAll(splitOut, 0755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot create output directory", err)
	}

	written, skipped := 0, 0
	for {
		mol, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *mol2.ParseError
		if errors.As(err, &pe) {
			log.Warn("Skipping malformed molecule block",
				zap.Int64("offset", pe.Offset),
				zap.String("reason", pe.Reason))
			skipped++
			continue
		}
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Library read failed", err)
		}
		path := filepath.Join(splitOut, mol.ID+".mol2")
		if err := os.WriteFile(path, mol.Block, 0644); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write molecule", err)
		}
		written++
	}

	log.Info("Split library",
		zap.String("library", splitLibrary),
		zap.Int("molecules", written),
		zap.Int("skipped", skipped),
		zap.String("out", splitOut))
	return nil
}
