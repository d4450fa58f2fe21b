package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redleafbio/hemescreen/internal/config"
	"github.com/redleafbio/hemescreen/internal/observability"
	"github.com/redleafbio/hemescreen/internal/server"
	"github.com/redleafbio/hemescreen/pkg/archive"
	"github.com/redleafbio/hemescreen/pkg/collect"
	"github.com/redleafbio/hemescreen/pkg/curate"
	"github.com/redleafbio/hemescreen/pkg/dispatch"
	"github.com/redleafbio/hemescreen/pkg/engine"
	"github.com/redleafbio/hemescreen/pkg/events"
	"github.com/redleafbio/hemescreen/pkg/ledger"
	"github.com/redleafbio/hemescreen/pkg/manifest"
	"github.com/redleafbio/hemescreen/pkg/mol2"
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Dock a ligand library against a heme protein",
	Long: `Run a batch docking screen: split the library into molecules, dock
each one through a bounded worker pool, and rank the results by total
energy.

Inputs come from flags, from a manifest (--job), or both; flags win
over the manifest. Interrupted screens resume from the ledger in the
output directory.

Example:
  hemescreen screen -p receptor.pdb -l ligands.mol2 -o runs/p450 --heme-res-num 600 --chain A
  hemescreen screen --job screen.yaml
  hemescreen screen --job screen.yaml --workers 8 --retry-failed`,
	RunE: runScreen,
}

var (
	screenJobPath     string
	screenProtein     string
	screenLibrary     string
	screenOut         string
	screenHemeResNum  int
	screenChain       string
	screenCenter      []float64
	screenSize        []float64
	screenWorkers     int
	screenTimeout     time.Duration
	screenLaunchRate  float64
	screenForce       bool
	screenRetryFailed bool
	screenKeepTemp    bool
	screenEvents      string
	screenStatusAddr  string
	screenArchive     string
)

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().StringVarP(&screenJobPath, "job", "j", "", "Path to screen manifest (YAML or JSON)")
	screenCmd.Flags().StringVarP(&screenProtein, "protein", "p", "", "Receptor PDB path")
	screenCmd.Flags().StringVarP(&screenLibrary, "library", "l", "", "Ligand library MOL2 path or glob")
	screenCmd.Flags().StringVarP(&screenOut, "out", "o", "", "Output directory")
	screenCmd.Flags().IntVar(&screenHemeResNum, "heme-res-num", 0, "Heme cofactor residue number")
	screenCmd.Flags().StringVar(&screenChain, "chain", "", "Receptor chain identifier")
	screenCmd.Flags().Float64SliceVar(&screenCenter, "center", nil, "Docking box center x,y,z in Angstroms")
	screenCmd.Flags().Float64SliceVar(&screenSize, "size", nil, "Docking box size x,y,z in Angstroms")
	screenCmd.Flags().IntVarP(&screenWorkers, "workers", "n", 0, "Concurrent docking jobs (default from config)")
	screenCmd.Flags().DurationVar(&screenTimeout, "timeout", 0, "Per-job timeout (default from config)")
	screenCmd.Flags().Float64Var(&screenLaunchRate, "launch-rate", 0, "Engine launches per second (0 = unlimited)")
	screenCmd.Flags().BoolVar(&screenForce, "force", false, "Re-dock molecules with recorded outcomes")
	screenCmd.Flags().BoolVar(&screenRetryFailed, "retry-failed", false, "Re-dock previously failed or timed-out molecules")
	screenCmd.Flags().BoolVar(&screenKeepTemp, "keep-temp", false, "Keep per-job working directories")
	screenCmd.Flags().StringVar(&screenEvents, "events", "", "Write JSONL events to this path (relative to --out)")
	screenCmd.Flags().StringVar(&screenStatusAddr, "status-addr", "", "Serve progress over HTTP on this address")
	screenCmd.Flags().StringVar(&screenArchive, "archive", "", "Upload run outputs to s3://bucket/prefix")
}

// screenSettings is the fully resolved run configuration: manifest
// values overridden by flags, backed by the runtime config.
type screenSettings struct {
	Protein    string
	Library    string
	Out        string
	HemeResNum int
	Chain      string
	Center     []float64
	Size       []float64

	Workers     int
	Timeout     time.Duration
	LaunchRate  float64
	Force       bool
	RetryFailed bool
	KeepTemp    bool

	EngineCommand []string
	EngineHome    string

	Events     string
	StatusAddr string
	Archive    archive.Config
	DoArchive  bool
}

func resolveScreenSettings(cmd *cobra.Command, cfg *config.Config) (*screenSettings, error) {
	st := &screenSettings{
		Workers:       cfg.Docking.Workers,
		Timeout:       cfg.Docking.Timeout,
		LaunchRate:    cfg.Docking.LaunchRate,
		EngineCommand: cfg.Engine.Command,
		EngineHome:    cfg.Engine.Home,
	}

	if screenJobPath != "" {
		m, err := manifest.Load(screenJobPath)
		if err != nil {
			return nil, err
		}
		st.Protein = m.Screen.Protein
		st.Library = m.Screen.Library
		st.Out = m.Screen.Out
		st.HemeResNum = m.Screen.HemeResNum
		st.Chain = m.Screen.Chain
		if m.Screen.Box != nil {
			st.Center = m.Screen.Box.Center
			st.Size = m.Screen.Box.Size
		}
		st.Workers = m.Docking.Workers
		if d, err := m.TimeoutDuration(); err == nil {
			st.Timeout = d
		}
		st.LaunchRate = m.Docking.LaunchRate
		st.Force = m.Docking.Force
		st.RetryFailed = m.Docking.RetryFailed
		st.KeepTemp = m.Docking.KeepTemp
		if len(m.Engine.Command) > 0 {
			st.EngineCommand = m.Engine.Command
		}
		if m.Engine.Home != "" {
			st.EngineHome = m.Engine.Home
		}
		st.Events = m.Output.Events
		st.StatusAddr = m.Output.StatusAddr
		if m.Archive.Destination != "" {
			ac, err := archive.ParseDestination(m.Archive.Destination)
			if err != nil {
				return nil, err
			}
			ac.Region = m.Archive.Region
			ac.Profile = m.Archive.Profile
			ac.Endpoint = m.Archive.Endpoint
			ac.ForcePathStyle = m.Archive.ForcePathStyle
			st.Archive = ac
			st.DoArchive = true
		}
	}

	flags := cmd.Flags()
	if flags.Changed("protein") {
		st.Protein = screenProtein
	}
	if flags.Changed("library") {
		st.Library = screenLibrary
	}
	if flags.Changed("out") {
		st.Out = screenOut
	}
	if flags.Changed("heme-res-num") {
		st.HemeResNum = screenHemeResNum
	}
	if flags.Changed("chain") {
		st.Chain = screenChain
	}
	if flags.Changed("center") {
		st.Center = screenCenter
	}
	if flags.Changed("size") {
		st.Size = screenSize
	}
	if flags.Changed("workers") {
		st.Workers = screenWorkers
	}
	if flags.Changed("timeout") {
		st.Timeout = screenTimeout
	}
	if flags.Changed("launch-rate") {
		st.LaunchRate = screenLaunchRate
	}
	if flags.Changed("force") {
		st.Force = screenForce
	}
	if flags.Changed("retry-failed") {
		st.RetryFailed = screenRetryFailed
	}
	if flags.Changed("keep-temp") {
		st.KeepTemp = screenKeepTemp
	}
	if flags.Changed("events") {
		st.Events = screenEvents
	}
	if flags.Changed("status-addr") {
		st.StatusAddr = screenStatusAddr
	}
	if flags.Changed("archive") {
		ac, err := archive.ParseDestination(screenArchive)
		if err != nil {
			return nil, err
		}
		st.Archive = ac
		st.DoArchive = true
	}

	if st.Protein == "" || st.Library == "" || st.Out == "" {
		return nil, fmt.Errorf("protein, library, and out are required (via flags or --job)")
	}
	for name, v := range map[string][]float64{"center": st.Center, "size": st.Size} {
		if len(v) != 0 && len(v) != 3 {
			return nil, fmt.Errorf("--%s needs exactly 3 values, got %d", name, len(v))
		}
	}
	if st.Chain != "" && st.HemeResNum == 0 {
		return nil, fmt.Errorf("--chain requires --heme-res-num")
	}
	return st, nil
}

func runScreen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	st, err := resolveScreenSettings(cmd, runtimeConfig)
	if err != nil {
		log.Error("Invalid screen arguments", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}

	if _, err := os.Stat(st.Protein); err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read protein", err)
	}
	libraries, err := mol2.ExpandLibraries(st.Library)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read library", err)
	}
	if err := os.MkdirAll(st.Out, 0755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot create output directory", err)
	}

	store, err := ledger.Open(ctx, filepath.Join(st.Out, ledger.DefaultFileName))
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot open ledger", err)
	}
	defer func() { _ = store.Close() }()

	runID := uuid.NewString()
	writer, closeWriter, err := openEventWriter(st, runID)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot create event output", err)
	}
	defer closeWriter()

	runner, err := engine.NewRunner(engine.Config{
		Command:   st.EngineCommand,
		HomeDir:   st.EngineHome,
		KillGrace: runtimeConfig.Engine.KillGrace,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid engine configuration", err)
	}

	curator := curate.New(st.KeepTemp, log)
	pool := dispatch.New(runner, store, curator, writer, log, runID, dispatch.Options{
		Workers:       st.Workers,
		LaunchRate:    st.LaunchRate,
		PerJobTimeout: st.Timeout,
		Force:         st.Force,
		RetryFailed:   st.RetryFailed,
	})

	if st.StatusAddr != "" {
		srv := server.New(server.Options{
			Addr:            st.StatusAddr,
			ReadTimeout:     runtimeConfig.Status.ReadTimeout,
			WriteTimeout:    runtimeConfig.Status.WriteTimeout,
			ShutdownTimeout: runtimeConfig.Status.ShutdownTimeout,
		}, pool, log)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Warn("Status server stopped", zap.Error(err))
			}
		}()
	}

	log.Info("Starting screen",
		zap.String("run_id", runID),
		zap.String("protein", st.Protein),
		zap.Strings("libraries", libraries),
		zap.Int("workers", st.Workers))

	var allFailures []collect.Failure
	var outputFiles []string
	totals := events.SummaryRecord{}
	start := time.Now()

	for _, lib := range libraries {
		splitter, err := mol2.Open(lib)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Cannot read library", err)
		}
		jobs := produceJobs(ctx, splitter, st, writer, log)
		summary, err := pool.Run(ctx, jobs)
		_ = splitter.Close()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn("Screen cancelled", zap.String("library", lib))
				return exitError(foundry.ExitSignalInt, "Screen cancelled", err)
			}
			return exitError(foundry.ExitFileWriteError, "Ledger update failed", err)
		}

		pool.SetPhase(events.PhaseRanking)
		ranked := collect.Rank(summary.Records)
		base := libraryBase(lib)
		summaryPath := filepath.Join(st.Out, collect.SummaryCSVName(base))
		posesPath := filepath.Join(st.Out, collect.TopPosesName(base))
		if err := collect.WriteSummaryCSV(summaryPath, ranked, false); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write summary", err)
		}
		if err := collect.WriteTopPoses(posesPath, ranked); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write top poses", err)
		}
		outputFiles = append(outputFiles, collect.SummaryCSVName(base), collect.TopPosesName(base))

		allFailures = append(allFailures, summary.Failures...)
		totals.Molecules += int64(summary.Total)
		totals.Succeeded += int64(summary.Succeeded)
		totals.Failed += int64(summary.Failed)
		totals.TimedOut += int64(summary.TimedOut)
		totals.Cached += int64(summary.Cached)
		totals.Skipped += int64(summary.Skipped)

		log.Info("Library complete",
			zap.String("library", lib),
			zap.Int("molecules", summary.Total),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed+summary.TimedOut),
			zap.Int("cached", summary.Cached),
			zap.String("summary", summaryPath))
	}

	failedPath := filepath.Join(st.Out, collect.FailedListFileName)
	if err := collect.WriteFailedList(failedPath, allFailures); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot write failure list", err)
	}
	outputFiles = append(outputFiles, collect.FailedListFileName, ledger.DefaultFileName)

	pool.SetPhase(events.PhaseComplete)
	totals.Duration = time.Since(start)
	totals.DurationHuman = totals.Duration.Round(time.Millisecond).String()
	totals.FailedPath = failedPath
	if err := writer.WriteSummary(ctx, &totals); err != nil {
		log.Warn("Event write failed", zap.Error(err))
	}

	log.Info("Screen complete",
		zap.Int64("molecules", totals.Molecules),
		zap.Int64("succeeded", totals.Succeeded),
		zap.Int64("failed", totals.Failed+totals.TimedOut),
		zap.Int64("cached", totals.Cached),
		zap.Int64("skipped", totals.Skipped),
		zap.String("out", st.Out),
		zap.Duration("duration", totals.Duration))

	if st.DoArchive {
		// The batch itself completed; an upload failure is reported
		// through the log and the error event, never the exit code.
		if err := archiveRun(ctx, st, outputFiles, writer, log); err != nil {
			log.Error("Archive upload failed",
				zap.String("bucket", st.Archive.Bucket),
				zap.Error(err))
		}
	}
	return nil
}

// produceJobs splits one library into dispatch jobs, in library order.
// Malformed molecule blocks are logged and reported as error events;
// they never abort the split.
func produceJobs(ctx context.Context, splitter *mol2.Splitter, st *screenSettings, writer events.Writer, log *zap.Logger) <-chan dispatch.Job {
	spec := engine.JobSpec{
		ProteinPath: st.Protein,
		Chain:       st.Chain,
		Timeout:     st.Timeout,
	}
	if st.HemeResNum > 0 {
		spec.HemeResNum = strconv.Itoa(st.HemeResNum)
	}
	if len(st.Center) == 3 {
		spec.BoxCenter = &engine.Vec3{X: st.Center[0], Y: st.Center[1], Z: st.Center[2]}
	}
	if len(st.Size) == 3 {
		spec.BoxSize = &engine.Vec3{X: st.Size[0], Y: st.Size[1], Z: st.Size[2]}
	}

	ch := make(chan dispatch.Job)
	go func() {
		defer close(ch)
		for {
			mol, err := splitter.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			var pe *mol2.ParseError
			if errors.As(err, &pe) {
				log.Warn("Skipping malformed molecule block",
					zap.String("library", pe.Source),
					zap.Int64("offset", pe.Offset),
					zap.String("reason", pe.Reason))
				if werr := writer.WriteError(ctx, &events.ErrorRecord{
					Code:    events.ErrCodeParse,
					Message: pe.Error(),
				}); werr != nil {
					log.Warn("Event write failed", zap.Error(werr))
				}
				continue
			}
			if err != nil {
				log.Error("Library read failed", zap.Error(err))
				return
			}
			job := dispatch.Job{
				MoleculeID:   mol.ID,
				LibraryIndex: mol.Index,
				Block:        mol.Block,
				Spec:         spec,
				WorkDir:      filepath.Join(st.Out, "work", mol.ID),
				DestDir:      filepath.Join(st.Out, "results", mol.ID),
			}
			select {
			case ch <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func openEventWriter(st *screenSettings, runID string) (events.Writer, func(), error) {
	if st.Events == "" {
		return events.Discard{}, func() {}, nil
	}
	path := st.Events
	if !filepath.IsAbs(path) {
		path = filepath.Join(st.Out, path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	w := events.NewJSONLWriter(f, runID)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

func archiveRun(ctx context.Context, st *screenSettings, files []string, writer events.Writer, log *zap.Logger) error {
	uploader, err := archive.New(ctx, st.Archive, log)
	if err != nil {
		return err
	}
	if st.Events != "" && !filepath.IsAbs(st.Events) {
		files = append(files, st.Events)
	}
	uploaded, err := uploader.UploadRun(ctx, st.Out, files)
	if err != nil {
		if werr := writer.WriteError(ctx, &events.ErrorRecord{
			Code:    events.ErrCodeArchive,
			Message: err.Error(),
		}); werr != nil {
			log.Warn("Event write failed", zap.Error(werr))
		}
		return err
	}
	log.Info("Archived run outputs",
		zap.Int("files", uploaded),
		zap.String("bucket", st.Archive.Bucket),
		zap.String("prefix", st.Archive.Prefix))
	return nil
}

// libraryBase strips the directory and extension from a library path,
// giving the stem used to name the run outputs.
func libraryBase(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
