package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redleafbio/hemescreen/pkg/collect"
	"github.com/redleafbio/hemescreen/pkg/curate"
	"github.com/redleafbio/hemescreen/pkg/engine"
	"github.com/redleafbio/hemescreen/pkg/ledger"
	"github.com/redleafbio/hemescreen/pkg/scoreinfo"
)

// fakeRunner emulates the docking engine without subprocesses. Each
// molecule gets an outcome; succeeding molecules have their artifacts
// written into the job's out dir.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string]fakeOutcome
	launches atomic.Int64

	running atomic.Int64
	maxSeen atomic.Int64
	delay   time.Duration
}

type fakeOutcome struct {
	energy   float64
	exitCode int
	skipInfo bool // exit 0 but no score artifact
}

func (r *fakeRunner) Run(_ context.Context, spec engine.JobSpec) (*engine.Result, error) {
	r.launches.Add(1)

	cur := r.running.Add(1)
	for {
		max := r.maxSeen.Load()
		if cur <= max || r.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	defer r.running.Add(-1)

	r.mu.Lock()
	out, ok := r.outcomes[spec.MoleculeID]
	r.mu.Unlock()
	if !ok {
		out = fakeOutcome{energy: -10.0}
	}
	if out.exitCode != 0 {
		return &engine.Result{ExitCode: out.exitCode, Duration: time.Millisecond}, nil
	}
	if !out.skipInfo {
		writeArtifacts(spec.OutDir, spec.MoleculeID, out.energy)
	}
	return &engine.Result{ExitCode: 0, Duration: time.Millisecond}, nil
}

func writeArtifacts(dir, id string, energy float64) {
	info := fmt.Sprintf(`!---
Rank        Energy       ATDK_E        INT_E         DS_E         HM_E          PLP
   1      %8.3f      -20.000       -1.000       -4.000       -2.000      -10.000
`, energy)
	_ = os.WriteFile(filepath.Join(dir, scoreinfo.FileName), []byte(info), 0644)
	pose := "@<TRIPOS>MOLECULE\n" + id + "\n 1 0 0 0 0\nSMALL\nUSER_CHARGES\n@<TRIPOS>ATOM\n      1 C1    0.0000    0.0000    0.0000 C.3     1 LIG   0.00\n"
	_ = os.WriteFile(filepath.Join(dir, scoreinfo.PoseFileName), []byte(pose), 0644)
}

type harness struct {
	root  string
	store *ledger.Store
	pool  *Pool
}

func newHarness(t *testing.T, runner Runner, opts Options) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := ledger.Open(context.Background(), filepath.Join(root, ledger.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := New(runner, store, curate.New(false, nil), nil, nil, "run-test", opts)
	return &harness{root: root, store: store, pool: pool}
}

func (h *harness) jobs(ids ...string) <-chan Job {
	ch := make(chan Job, len(ids))
	for i, id := range ids {
		ch <- Job{
			MoleculeID:   id,
			LibraryIndex: i,
			Block:        []byte("@<TRIPOS>MOLECULE\n" + id + "\n@<TRIPOS>ATOM\n"),
			WorkDir:      filepath.Join(h.root, "work", id),
			DestDir:      filepath.Join(h.root, "results", id),
		}
	}
	close(ch)
	return ch
}

func TestRunThreeMoleculeScenario(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{
		"A": {energy: -30.0},
		"B": {exitCode: 1},
		"C": {energy: -45.2},
	}}
	h := newHarness(t, runner, Options{Workers: 2})

	summary, err := h.pool.Run(context.Background(), h.jobs("A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Launched)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	ranked := collect.Rank(summary.Records)
	require.Len(t, ranked, 2)
	assert.Equal(t, "C", ranked[0].MoleculeID)
	assert.Equal(t, "A", ranked[1].MoleculeID)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "B", summary.Failures[0].MoleculeID)
	assert.Equal(t, "engine exited 1", summary.Failures[0].Reason)

	// succeeded jobs end curated, their scratch removed
	entry, err := h.store.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCurated, entry.State)
	assert.NoDirExists(t, filepath.Join(h.root, "work", "A"))

	// failed jobs keep scratch for inspection
	entry, err = h.store.Get(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFailed, entry.State)
	assert.DirExists(t, filepath.Join(h.root, "work", "B"))
}

func TestRunConcurrencyBound(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{}, delay: 20 * time.Millisecond}
	h := newHarness(t, runner, Options{Workers: 3})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("mol%02d", i)
	}
	summary, err := h.pool.Run(context.Background(), h.jobs(ids...))
	require.NoError(t, err)

	assert.Equal(t, 12, summary.Launched)
	assert.LessOrEqual(t, runner.maxSeen.Load(), int64(3))
	assert.GreaterOrEqual(t, runner.maxSeen.Load(), int64(2), "pool should actually run jobs in parallel")
}

func TestRunCacheSkipIsIdempotent(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{
		"A": {energy: -30.0},
		"B": {energy: -50.0},
	}}
	h := newHarness(t, runner, Options{Workers: 2})

	_, err := h.pool.Run(context.Background(), h.jobs("A", "B"))
	require.NoError(t, err)
	require.Equal(t, int64(2), runner.launches.Load())

	summary, err := h.pool.Run(context.Background(), h.jobs("A", "B"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), runner.launches.Load(), "second run must not launch the engine")
	assert.Equal(t, 2, summary.Cached)
	assert.Zero(t, summary.Launched)

	ranked := collect.Rank(summary.Records)
	require.Len(t, ranked, 2, "cached results still feed the ranking")
	assert.Equal(t, "B", ranked[0].MoleculeID)
	assert.InDelta(t, -50.0, ranked[0].TotalEnergy, 1e-9)
}

func TestRunForceRedispatches(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{"A": {energy: -30.0}}}
	h := newHarness(t, runner, Options{Workers: 1})

	_, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.NoError(t, err)

	h.pool.opts.Force = true
	summary, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), runner.launches.Load())
	assert.Equal(t, 1, summary.Launched)
	assert.Zero(t, summary.Cached)
}

func TestRunResumeRedispatchesOnlyRemaining(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{
		"A": {energy: -30.0},
		"B": {exitCode: 2},
		"C": {energy: -45.2},
		"D": {energy: -12.0},
	}}
	h := newHarness(t, runner, Options{Workers: 2})

	// first run: A succeeds, B fails, C and D never attempted
	_, err := h.pool.Run(context.Background(), h.jobs("A", "B"))
	require.NoError(t, err)
	require.Equal(t, int64(2), runner.launches.Load())

	summary, err := h.pool.Run(context.Background(), h.jobs("A", "B", "C", "D"))
	require.NoError(t, err)

	assert.Equal(t, int64(4), runner.launches.Load(), "only C and D are dispatched")
	assert.Equal(t, 2, summary.Launched)
	assert.Equal(t, 1, summary.Cached)
	assert.Equal(t, 1, summary.Skipped, "B is skipped without --retry-failed")
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "B", summary.Failures[0].MoleculeID)
	assert.Equal(t, "engine exited 2", summary.Failures[0].Reason)
}

func TestRunRetryFailed(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{"B": {exitCode: 2}}}
	h := newHarness(t, runner, Options{Workers: 1})

	_, err := h.pool.Run(context.Background(), h.jobs("B"))
	require.NoError(t, err)

	// engine fixed between runs
	runner.mu.Lock()
	runner.outcomes["B"] = fakeOutcome{energy: -20.0}
	runner.mu.Unlock()

	h.pool.opts.RetryFailed = true
	summary, err := h.pool.Run(context.Background(), h.jobs("B"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Launched)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, summary.Failures)

	entry, err := h.store.Get(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCurated, entry.State)
}

func TestRunDemotesExitZeroWithoutArtifacts(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{"A": {skipInfo: true}}}
	h := newHarness(t, runner, Options{Workers: 1})

	summary, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.NoError(t, err)

	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "no result", summary.Failures[0].Reason)

	entry, err := h.store.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFailed, entry.State)
}

func TestRunTimedOutJob(t *testing.T) {
	runner := &timeoutRunner{}
	h := newHarness(t, runner, Options{Workers: 1, PerJobTimeout: 50 * time.Millisecond})

	summary, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TimedOut)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0].Reason, "timed out")

	entry, err := h.store.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateTimedOut, entry.State)
}

// timeoutRunner reports every job as timed out, the way engine.Run
// does after killing the process group.
type timeoutRunner struct{}

func (r *timeoutRunner) Run(_ context.Context, spec engine.JobSpec) (*engine.Result, error) {
	return &engine.Result{ExitCode: -1, TimedOut: true, Duration: spec.Timeout},
		fmt.Errorf("docking %s: timed out after %s", spec.MoleculeID, spec.Timeout)
}

// cancelAfterRunner completes its job successfully and then fires the
// stop signal, so the completion message reaches the aggregator after
// the context is already cancelled.
type cancelAfterRunner struct {
	cancel context.CancelFunc
}

func (r *cancelAfterRunner) Run(_ context.Context, spec engine.JobSpec) (*engine.Result, error) {
	writeArtifacts(spec.OutDir, spec.MoleculeID, -30.0)
	r.cancel()
	return &engine.Result{ExitCode: 0, Duration: time.Millisecond}, nil
}

func TestRunPersistsOutcomeCompletedAtCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &cancelAfterRunner{cancel: cancel}
	h := newHarness(t, runner, Options{Workers: 1})

	summary, err := h.pool.Run(ctx, h.jobs("A"))
	require.ErrorIs(t, err, context.Canceled)

	// the job finished before the signal; its outcome is durable
	assert.Equal(t, 1, summary.Succeeded)
	entry, err := h.store.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateCurated, entry.State)
	assert.True(t, collect.HasCompactOutput(filepath.Join(h.root, "results", "A")))
}

func TestRunFailsFastOnUnreadableLedger(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{}}
	h := newHarness(t, runner, Options{Workers: 1})
	require.NoError(t, h.store.Close())

	_, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger read")
	assert.Zero(t, runner.launches.Load(), "no engine launch against a failing ledger")
}

func TestRunRedispatchesCorruptCachedResult(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{"A": {energy: -30.0}}}
	h := newHarness(t, runner, Options{Workers: 1})

	_, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.NoError(t, err)
	require.Equal(t, int64(1), runner.launches.Load())

	// corrupt the cached score artifact between runs
	infoPath := filepath.Join(h.root, "results", "A", scoreinfo.FileName)
	require.NoError(t, os.WriteFile(infoPath, []byte("garbage\n"), 0644))

	summary, err := h.pool.Run(context.Background(), h.jobs("A"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), runner.launches.Load(), "corrupt cached result is re-docked")
	assert.Zero(t, summary.Cached)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, summary.Failures)
}

func TestRunCancellation(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]fakeOutcome{}, delay: 30 * time.Millisecond}
	h := newHarness(t, runner, Options{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("mol%02d", i)
	}
	summary, err := h.pool.Run(ctx, h.jobs(ids...))
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, summary.Launched, 20, "cancellation stops dispatch")
}
