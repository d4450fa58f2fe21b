package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redleafbio/hemescreen/internal/observability"
	"github.com/redleafbio/hemescreen/pkg/collect"
	"github.com/redleafbio/hemescreen/pkg/hemegeom"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Re-rank the results of a completed screen",
	Long: `Rebuild the ranked summary from the compact per-molecule results of
an existing run, without re-docking anything. Useful after retrying
failed molecules, or to add the heme-coordination annotation.

Example:
  hemescreen rank --out runs/p450 --name screen
  hemescreen rank --out runs/p450 --name screen --annotate-coordination --protein receptor.pdb`,
	RunE: runRank,
}

var (
	rankOut          string
	rankName         string
	rankProtein      string
	rankCoordination bool
)

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().StringVarP(&rankOut, "out", "o", "", "Output directory of the screen (required)")
	rankCmd.Flags().StringVar(&rankName, "name", "screen", "Stem for the regenerated summary files")
	rankCmd.Flags().BoolVar(&rankCoordination, "annotate-coordination", false, "Classify each best pose against the heme iron")
	rankCmd.Flags().StringVarP(&rankProtein, "protein", "p", "", "Receptor PDB (required with --annotate-coordination)")

	_ = rankCmd.MarkFlagRequired("out")
}

func runRank(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger

	if rankCoordination && rankProtein == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments",
			fmt.Errorf("--annotate-coordination requires --protein"))
	}

	records, err := collect.LoadResults(filepath.Join(rankOut, "results"))
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot load results", err)
	}
	if len(records) == 0 {
		return exitError(foundry.ExitFileReadError, "No results to rank",
			fmt.Errorf("no extracted results under %s", rankOut))
	}

	if rankCoordination {
		fe, err := hemegeom.FindIron(rankProtein)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Cannot locate heme iron", err)
		}
		for i := range records {
			rep, err := hemegeom.ClassifyPoseFile(records[i].PosePath, rankProtein)
			if err != nil {
				log.Warn("Pose classification failed",
					zap.String("molecule", records[i].MoleculeID),
					zap.Error(err))
				continue
			}
			records[i].Coordination = string(rep.Class)
		}
		log.Debug("Classified poses against heme iron",
			zap.Float64("fe_x", fe.X), zap.Float64("fe_y", fe.Y), zap.Float64("fe_z", fe.Z))
	}

	ranked := collect.Rank(records)
	summaryPath := filepath.Join(rankOut, collect.SummaryCSVName(rankName))
	posesPath := filepath.Join(rankOut, collect.TopPosesName(rankName))
	if err := collect.WriteSummaryCSV(summaryPath, ranked, rankCoordination); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot write summary", err)
	}
	if err := collect.WriteTopPoses(posesPath, ranked); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot write top poses", err)
	}

	log.Info("Re-ranked results",
		zap.Int("molecules", len(ranked)),
		zap.String("summary", summaryPath),
		zap.String("poses", posesPath))
	return nil
}
