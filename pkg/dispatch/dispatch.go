// Package dispatch runs docking jobs through a bounded worker pool.
//
// The pool enforces the concurrency bound with a fixed set of worker
// goroutines fed from one channel. All ledger writes, result
// extraction, and curation happen on a single aggregator goroutine, so
// the store never sees concurrent writers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/redleafbio/hemescreen/pkg/collect"
	"github.com/redleafbio/hemescreen/pkg/curate"
	"github.com/redleafbio/hemescreen/pkg/engine"
	"github.com/redleafbio/hemescreen/pkg/events"
	"github.com/redleafbio/hemescreen/pkg/ledger"
	"github.com/redleafbio/hemescreen/pkg/scoreinfo"
)

// LigandFileName is the single-molecule input materialized into each
// job's working directory.
const LigandFileName = "ligand.mol2"

// DefaultWorkers is the default pool size. Docking is CPU-heavy, so
// the default stays small.
const DefaultWorkers = 4

// DefaultPerJobTimeout bounds a single docking subprocess.
const DefaultPerJobTimeout = 10 * time.Minute

// Runner launches one docking job. *engine.Runner satisfies it; tests
// substitute fakes.
type Runner interface {
	Run(ctx context.Context, spec engine.JobSpec) (*engine.Result, error)
}

// Options tune pool behavior.
type Options struct {
	Workers int

	// LaunchRate caps engine launches per second. Zero disables the
	// limiter.
	LaunchRate float64

	// PerJobTimeout applies to jobs whose spec carries no timeout.
	PerJobTimeout time.Duration

	// Force re-dispatches molecules regardless of ledger state.
	Force bool

	// RetryFailed re-dispatches molecules previously recorded as
	// failed or timed out. Without it they are skipped and carried
	// into the failure list with their recorded reason.
	RetryFailed bool
}

// Job is one molecule ready for dispatch. WorkDir is the isolated
// scratch directory; DestDir receives the compact extracted result.
type Job struct {
	MoleculeID   string
	LibraryIndex int
	Block        []byte
	Spec         engine.JobSpec
	WorkDir      string
	DestDir      string
}

// Summary is the outcome of one pool run.
type Summary struct {
	Records  []collect.ScoreRecord
	Failures []collect.Failure

	Total     int
	Launched  int
	Succeeded int
	Failed    int
	TimedOut  int
	Cached    int
	Skipped   int

	Duration time.Duration
}

// Progress is a point-in-time snapshot for the status endpoint.
type Progress struct {
	Phase      string `json:"phase"`
	Total      int64  `json:"total"`
	Dispatched int64  `json:"dispatched"`
	Succeeded  int64  `json:"succeeded"`
	Failed     int64  `json:"failed"`
	TimedOut   int64  `json:"timed_out"`
	Cached     int64  `json:"cached"`
}

// Pool dispatches jobs against the docking engine.
type Pool struct {
	runner  Runner
	store   *ledger.Store
	curator *curate.Curator
	writer  events.Writer
	log     *zap.Logger
	opts    Options
	runID   string
	limiter *rate.Limiter

	phase      atomic.Value
	total      atomic.Int64
	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	cached     atomic.Int64
}

// New builds a Pool. runID tags ledger entries and events so outcomes
// can be traced to the run that produced them.
func New(runner Runner, store *ledger.Store, curator *curate.Curator, writer events.Writer, log *zap.Logger, runID string, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PerJobTimeout <= 0 {
		opts.PerJobTimeout = DefaultPerJobTimeout
	}
	if writer == nil {
		writer = events.Discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	var limiter *rate.Limiter
	if opts.LaunchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.LaunchRate), 1)
	}
	p := &Pool{
		runner:  runner,
		store:   store,
		curator: curator,
		writer:  writer,
		log:     log,
		opts:    opts,
		runID:   runID,
		limiter: limiter,
	}
	p.phase.Store(events.PhaseSplitting)
	return p
}

// SetPhase updates the phase reported by Progress.
func (p *Pool) SetPhase(phase string) { p.phase.Store(phase) }

// Progress returns a consistent-enough snapshot of the run counters.
func (p *Pool) Progress() Progress {
	phase, _ := p.phase.Load().(string)
	return Progress{
		Phase:      phase,
		Total:      p.total.Load(),
		Dispatched: p.dispatched.Load(),
		Succeeded:  p.succeeded.Load(),
		Failed:     p.failed.Load(),
		TimedOut:   p.timedOut.Load(),
		Cached:     p.cached.Load(),
	}
}

type msgKind int

const (
	msgQueued msgKind = iota
	msgStarted
	msgFinished
	msgCached
	msgSkippedFailed
	msgLedgerFailed
)

type message struct {
	kind   msgKind
	job    Job
	reset  bool
	reason string
	rec    *collect.ScoreRecord
	res    *engine.Result
	err    error
}

// Run consumes jobs in library order and returns once every accepted
// job has a durably recorded outcome. Job-level failures never abort
// the run; a ledger write failure does, after in-flight jobs drain.
func (p *Pool) Run(ctx context.Context, jobs <-chan Job) (*Summary, error) {
	start := time.Now()
	p.SetPhase(events.PhaseDocking)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Outcomes of jobs that finish around a stop signal still get
	// recorded: the aggregator persists through a detached context, so
	// cancellation stops launches without losing completed work.
	persistCtx := context.WithoutCancel(ctx)

	workCh := make(chan Job)
	msgCh := make(chan message, p.opts.Workers*2)

	var senders sync.WaitGroup

	// Workers: the only place engine subprocesses start. Their count
	// is the concurrency bound.
	var workers sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		senders.Add(1)
		workers.Add(1)
		go func() {
			defer senders.Done()
			defer workers.Done()
			for job := range workCh {
				msgCh <- message{kind: msgStarted, job: job}
				res, err := p.runJob(ctx, job)
				msgCh <- message{kind: msgFinished, job: job, res: res, err: err}
			}
		}()
	}

	// Dispatcher: decides skip/cache/dispatch per molecule, in
	// library order.
	senders.Add(1)
	go func() {
		defer senders.Done()
		defer close(workCh)
		for job := range jobs {
			if ctx.Err() != nil {
				return
			}
			p.total.Add(1)
			m, launch := p.decide(ctx, job)
			msgCh <- m
			if !launch {
				continue
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case workCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		senders.Wait()
		close(msgCh)
	}()

	// Aggregator: sole writer to ledger, collector, and curator.
	summary := &Summary{}
	var ledgerErr error
	for m := range msgCh {
		if err := p.apply(persistCtx, m, summary); err != nil {
			if ledgerErr == nil {
				ledgerErr = err
				cancel()
			}
		}
	}
	workers.Wait()

	summary.Duration = time.Since(start)
	if ledgerErr != nil {
		return summary, ledgerErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// decide classifies a molecule against the ledger before dispatch.
func (p *Pool) decide(ctx context.Context, job Job) (message, bool) {
	entry, err := p.store.Get(ctx, job.MoleculeID)
	if errors.Is(err, ledger.ErrNotFound) {
		return message{kind: msgQueued, job: job}, true
	}
	if err != nil {
		// A ledger that cannot be read is fatal, not a silent
		// re-dispatch.
		return message{kind: msgLedgerFailed, job: job, err: err}, false
	}
	if p.opts.Force {
		return message{kind: msgQueued, job: job, reset: true}, true
	}
	if entry.State.Finished() && collect.HasCompactOutput(job.DestDir) {
		rec, err := p.loadCached(job)
		if err != nil {
			// An unreadable cached result counts as missing: re-dock
			// instead of reporting the same failure on every resume.
			p.log.Warn("cached result unreadable, re-dispatching",
				zap.String("molecule", job.MoleculeID), zap.Error(err))
			return message{kind: msgQueued, job: job, reset: true}, true
		}
		return message{kind: msgCached, job: job, rec: rec}, false
	}
	if entry.State.Retryable() {
		if p.opts.RetryFailed {
			return message{kind: msgQueued, job: job, reset: true}, true
		}
		reason := entry.Message
		if reason == "" {
			reason = string(entry.State)
		}
		return message{kind: msgSkippedFailed, job: job, reason: reason}, false
	}
	// Finished in the ledger but the compact output is gone, or the
	// entry was left running by an interrupted run: re-dispatch.
	return message{kind: msgQueued, job: job, reset: true}, true
}

func (p *Pool) runJob(ctx context.Context, job Job) (*engine.Result, error) {
	if err := os.MkdirAll(job.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	ligand := filepath.Join(job.WorkDir, LigandFileName)
	if err := os.WriteFile(ligand, job.Block, 0644); err != nil {
		return nil, fmt.Errorf("materialize ligand: %w", err)
	}

	spec := job.Spec
	spec.MoleculeID = job.MoleculeID
	spec.LigandPath = ligand
	spec.OutDir = job.WorkDir
	if spec.Timeout <= 0 {
		spec.Timeout = p.opts.PerJobTimeout
	}
	return p.runner.Run(ctx, spec)
}

// apply handles one aggregator message. A returned error means the
// ledger itself is unwritable, which is fatal to the run.
func (p *Pool) apply(ctx context.Context, m message, summary *Summary) error {
	id := m.job.MoleculeID
	switch m.kind {
	case msgQueued:
		summary.Total++
		if m.reset {
			if err := p.store.Reset(ctx, id); err != nil {
				return fmt.Errorf("ledger reset %s: %w", id, err)
			}
		}
		if err := p.record(ctx, id, ledger.StatePending, "", 0); err != nil {
			return err
		}

	case msgStarted:
		summary.Launched++
		p.dispatched.Add(1)
		if err := p.record(ctx, id, ledger.StateRunning, "", 0); err != nil {
			return err
		}
		p.emitJob(ctx, id, string(ledger.StateRunning), nil, 0, "", 0)

	case msgCached:
		summary.Total++
		summary.Cached++
		p.cached.Add(1)
		summary.Records = append(summary.Records, *m.rec)
		p.emitJob(ctx, id, "cached", &m.rec.TotalEnergy, 0, "", 0)

	case msgLedgerFailed:
		return fmt.Errorf("ledger read %s: %w", id, m.err)

	case msgSkippedFailed:
		summary.Total++
		summary.Skipped++
		summary.Failures = append(summary.Failures, collect.Failure{MoleculeID: id, Reason: m.reason})
		p.emitJob(ctx, id, "skipped", nil, 0, m.reason, 0)

	case msgFinished:
		return p.applyOutcome(ctx, m, summary)
	}
	return nil
}

func (p *Pool) applyOutcome(ctx context.Context, m message, summary *Summary) error {
	id := m.job.MoleculeID

	if m.res != nil && m.res.TimedOut {
		summary.TimedOut++
		p.timedOut.Add(1)
		reason := fmt.Sprintf("timed out after %s", m.job.Spec.Timeout)
		if m.job.Spec.Timeout <= 0 {
			reason = fmt.Sprintf("timed out after %s", p.opts.PerJobTimeout)
		}
		if err := p.record(ctx, id, ledger.StateTimedOut, reason, m.res.ExitCode); err != nil {
			return err
		}
		summary.Failures = append(summary.Failures, collect.Failure{MoleculeID: id, Reason: reason})
		p.emitJob(ctx, id, string(ledger.StateTimedOut), nil, m.res.ExitCode, reason, m.res.Duration)
		return nil
	}

	if m.err != nil {
		summary.Failed++
		p.failed.Add(1)
		reason := fmt.Sprintf("launch error: %v", m.err)
		if err := p.record(ctx, id, ledger.StateFailed, reason, 0); err != nil {
			return err
		}
		summary.Failures = append(summary.Failures, collect.Failure{MoleculeID: id, Reason: reason})
		p.emitError(ctx, id, events.ErrCodeEngine, reason)
		return nil
	}

	if m.res.ExitCode != 0 {
		summary.Failed++
		p.failed.Add(1)
		reason := fmt.Sprintf("engine exited %d", m.res.ExitCode)
		if err := p.record(ctx, id, ledger.StateFailed, reason, m.res.ExitCode); err != nil {
			return err
		}
		summary.Failures = append(summary.Failures, collect.Failure{MoleculeID: id, Reason: reason})
		p.emitJob(ctx, id, string(ledger.StateFailed), nil, m.res.ExitCode, reason, m.res.Duration)
		return nil
	}

	// Exit 0 alone is not success: the score artifact and pose file
	// must both exist and parse.
	rec, err := collect.Extract(id, m.job.LibraryIndex, m.job.WorkDir, m.job.DestDir)
	if err != nil {
		summary.Failed++
		p.failed.Add(1)
		if err := p.record(ctx, id, ledger.StateFailed, "no result", 0); err != nil {
			return err
		}
		summary.Failures = append(summary.Failures, collect.Failure{MoleculeID: id, Reason: "no result"})
		p.emitError(ctx, id, events.ErrCodeNoResult, err.Error())
		return nil
	}

	summary.Succeeded++
	p.succeeded.Add(1)
	if err := p.record(ctx, id, ledger.StateSucceeded, "", 0); err != nil {
		return err
	}
	if err := p.curator.Curate(m.job.WorkDir); err != nil {
		p.log.Warn("curation failed", zap.String("molecule", id), zap.Error(err))
	} else if !p.curator.KeepTemp() {
		if err := p.record(ctx, id, ledger.StateCurated, "", 0); err != nil {
			return err
		}
	}
	summary.Records = append(summary.Records, *rec)
	p.emitJob(ctx, id, string(ledger.StateSucceeded), &rec.TotalEnergy, 0, "", m.res.Duration)
	return nil
}

func (p *Pool) loadCached(job Job) (*collect.ScoreRecord, error) {
	table, err := scoreinfo.ParseFile(filepath.Join(job.DestDir, scoreinfo.FileName))
	if err != nil {
		return nil, err
	}
	top, err := table.Top()
	if err != nil {
		return nil, err
	}
	return &collect.ScoreRecord{
		MoleculeID:   job.MoleculeID,
		LibraryIndex: job.LibraryIndex,
		TotalEnergy:  top.TotalEnergy,
		Components:   top.Components,
		PosePath:     filepath.Join(job.DestDir, collect.BestPoseFileName),
	}, nil
}

func (p *Pool) record(ctx context.Context, id string, state ledger.State, msg string, exitCode int) error {
	err := p.store.Record(ctx, ledger.Entry{
		MoleculeID: id,
		State:      state,
		Message:    msg,
		ExitCode:   exitCode,
		RunID:      p.runID,
	})
	if err != nil {
		return fmt.Errorf("ledger record %s %s: %w", id, state, err)
	}
	return nil
}

func (p *Pool) emitJob(ctx context.Context, id, state string, energy *float64, exitCode int, reason string, d time.Duration) {
	rec := &events.JobRecord{
		MoleculeID:  id,
		State:       state,
		TotalEnergy: energy,
		ExitCode:    exitCode,
		Reason:      reason,
	}
	if d > 0 {
		rec.DurationMS = d.Milliseconds()
	}
	if err := p.writer.WriteJob(ctx, rec); err != nil {
		p.log.Warn("event write failed", zap.String("molecule", id), zap.Error(err))
	}
}

func (p *Pool) emitError(ctx context.Context, id, code, msg string) {
	err := p.writer.WriteError(ctx, &events.ErrorRecord{MoleculeID: id, Code: code, Message: msg})
	if err != nil {
		p.log.Warn("event write failed", zap.String("molecule", id), zap.Error(err))
	}
}
