// Package curate removes per-job working directories once their
// outcome is durably recorded and, for succeeded jobs, the compact
// result has been extracted.
//
// Failed and timed-out jobs keep their working directories (engine
// logs included) for inspection; the clean command sweeps them later.
package curate

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Curator deletes bulky per-job scratch after extraction.
type Curator struct {
	keepTemp bool
	log      *zap.Logger
}

// New returns a Curator. With keepTemp set every working directory is
// retained, which is the debugging escape hatch.
func New(keepTemp bool, log *zap.Logger) *Curator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Curator{keepTemp: keepTemp, log: log}
}

// KeepTemp reports whether curation is disabled.
func (c *Curator) KeepTemp() bool { return c.keepTemp }

// Curate removes a job's working directory. Callers must only invoke
// it after the ledger write and the result extraction have both
// succeeded.
func (c *Curator) Curate(workDir string) error {
	if c.keepTemp {
		c.log.Debug("keeping working directory", zap.String("dir", workDir))
		return nil
	}
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("curate %s: %w", workDir, err)
	}
	c.log.Debug("removed working directory", zap.String("dir", workDir))
	return nil
}

// Purge removes a working directory unconditionally.
func Purge(workDir string) error {
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("purge %s: %w", workDir, err)
	}
	return nil
}

// Sweep removes every per-molecule directory under workRoot for which
// removable returns true. It returns the number of directories removed
// and keeps going past individual failures, reporting the first error.
func Sweep(workRoot string, removable func(moleculeID string) bool) (int, error) {
	entries, err := os.ReadDir(workRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweep %s: %w", workRoot, err)
	}
	removed := 0
	var firstErr error
	for _, e := range entries {
		if !e.IsDir() || !removable(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workRoot, e.Name())); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sweep %s: %w", e.Name(), err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
