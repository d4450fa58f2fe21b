// Package engine invokes the external docking engine as a subprocess.
//
// The engine is an opaque collaborator with a fixed contract: it is
// handed a protein structure, a single-ligand MOL2 file, and an output
// directory, and on success it writes a ranked pose ensemble plus a
// score artifact (see package scoreinfo) into that directory. This
// package owns only process lifecycle: explicit argv construction,
// output capture, timeout enforcement, and process-group termination.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Log file names written into each job's output directory.
const (
	StdoutLog = "engine.stdout.log"
	StderrLog = "engine.stderr.log"
)

// DefaultKillGrace is how long a timed-out process group is given after
// SIGTERM before it is killed.
const DefaultKillGrace = 5 * time.Second

// Config identifies the engine installation. It is immutable and passed
// explicitly; there is no process-wide engine state.
type Config struct {
	// Command is the argv prefix that launches the engine, e.g.
	// ["python", "/opt/GalaxyDock2_HEME/script/run_GalaxyDock2_heme.py"].
	Command []string

	// HomeDir is the engine installation directory, passed as -d.
	HomeDir string

	// KillGrace overrides DefaultKillGrace. Mostly for tests.
	KillGrace time.Duration
}

// Vec3 is a docking-box coordinate triple in Angstroms.
type Vec3 struct {
	X, Y, Z float64
}

// JobSpec describes one docking invocation. All paths are absolute.
type JobSpec struct {
	MoleculeID  string
	ProteinPath string
	LigandPath  string
	OutDir      string

	// BoxCenter and BoxSize are optional; the engine derives a center
	// from the holo protein when unset.
	BoxCenter *Vec3
	BoxSize   *Vec3

	// HemeResNum selects the heme cofactor when the protein carries more
	// than one. Chain selects the protein chain.
	HemeResNum string
	Chain      string

	// Timeout bounds the subprocess; zero means no limit.
	Timeout time.Duration
}

// Result captures how an invocation ended. A zero exit code does not by
// itself mean the docking produced results; callers also check for the
// expected artifacts on disk.
type Result struct {
	ExitCode   int
	TimedOut   bool
	Duration   time.Duration
	StdoutPath string
	StderrPath string

	// PGID is the process group the engine ran in.
	PGID int
}

// Runner launches docking jobs. Safe for concurrent use.
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) (*Runner, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("engine command is required")
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Runner{cfg: cfg}, nil
}

// Args builds the full argv for a job. Exposed so callers can log the
// exact invocation.
func (r *Runner) Args(spec JobSpec) []string {
	args := append([]string{}, r.cfg.Command...)
	if r.cfg.HomeDir != "" {
		args = append(args, "-d", r.cfg.HomeDir)
	}
	args = append(args,
		"-p", spec.ProteinPath,
		"-l", spec.LigandPath,
		"--out_dir", spec.OutDir,
	)
	if c := spec.BoxCenter; c != nil {
		args = append(args,
			"-x", formatCoord(c.X),
			"-y", formatCoord(c.Y),
			"-z", formatCoord(c.Z),
		)
	}
	if s := spec.BoxSize; s != nil {
		args = append(args,
			"-size_x", formatCoord(s.X),
			"-size_y", formatCoord(s.Y),
			"-size_z", formatCoord(s.Z),
		)
	}
	if spec.HemeResNum != "" {
		args = append(args, "--heme_res_num", spec.HemeResNum)
	}
	if spec.Chain != "" {
		args = append(args, "--chain", spec.Chain)
	}
	return args
}

// Run executes one docking job and blocks until the subprocess exits,
// the per-job timeout elapses, or ctx is cancelled.
//
// On timeout or cancellation the entire process group is terminated
// (SIGTERM, then SIGKILL after a grace period) so engine children do not
// outlive their job. The partial Result is still returned alongside the
// error so the caller can record what happened.
func (r *Runner) Run(ctx context.Context, spec JobSpec) (*Result, error) {
	if err := os.MkdirAll(spec.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("create job output dir: %w", err)
	}

	res := &Result{
		ExitCode:   -1,
		StdoutPath: filepath.Join(spec.OutDir, StdoutLog),
		StderrPath: filepath.Join(spec.OutDir, StderrLog),
	}

	stdout, err := os.Create(res.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdout.Close() }()
	stderr, err := os.Create(res.StderrPath)
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderr.Close() }()

	args := r.Args(spec)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = spec.OutDir
	cmd.Env = os.Environ()
	// Own process group so a timeout can take down engine children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start docking engine: %w", err)
	}
	pgid := cmd.Process.Pid
	res.PGID = pgid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case waitErr := <-done:
		res.Duration = time.Since(start)
		res.ExitCode = exitCode(cmd, waitErr)
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				// Non-zero exit is a per-job outcome, not a transport error.
				return res, nil
			}
			return res, fmt.Errorf("wait for docking engine: %w", waitErr)
		}
		return res, nil

	case <-timeout:
		r.killGroup(pgid, done)
		res.Duration = time.Since(start)
		res.TimedOut = true
		return res, fmt.Errorf("docking engine exceeded timeout %s for %s", spec.Timeout, spec.MoleculeID)

	case <-ctx.Done():
		r.killGroup(pgid, done)
		res.Duration = time.Since(start)
		return res, ctx.Err()
	}
}

// killGroup terminates the process group: TERM first, KILL after the
// grace period, then reaps the waiter.
func (r *Runner) killGroup(pgid int, done <-chan error) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(r.cfg.KillGrace):
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-done
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	return -1
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// GroupAlive reports whether any process in the group still exists.
// Used by tests to verify timeout cleanup and by the dispatcher's
// postmortem logging.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	// Signal 0 probes for existence without delivering a signal.
	return syscall.Kill(-pgid, syscall.Signal(0)) == nil
}
