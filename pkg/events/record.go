// Package events provides JSONL output for screening runs.
//
// Output is structured as typed record envelopes containing per-molecule
// job outcomes, progress updates, errors, and a final summary. Each line
// is a self-contained JSON object that can be parsed independently, so
// downstream tooling can tail a run without scraping log text.
package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: hemescreen.<type>.v<version>
const (
	// TypeJob identifies per-molecule job outcome records.
	TypeJob = "hemescreen.job.v1"

	// TypeError identifies error records.
	TypeError = "hemescreen.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "hemescreen.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "hemescreen.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "hemescreen.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this screening run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for one molecule's outcome.
type JobRecord struct {
	MoleculeID string `json:"molecule_id"`

	// State is the final ledger state (succeeded, failed, timed_out,
	// curated) or "cached" for resume skips.
	State string `json:"state"`

	// TotalEnergy is the top pose's total energy, present for succeeded
	// molecules.
	TotalEnergy *float64 `json:"total_energy,omitempty"`

	// ExitCode is the engine subprocess exit code.
	ExitCode int `json:"exit_code"`

	// Reason describes a failure, if any.
	Reason string `json:"reason,omitempty"`

	// DurationMS is the wall-clock job duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire batch,
// allowing partial results when some molecules fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// MoleculeID is the molecule related to this error, if applicable.
	MoleculeID string `json:"molecule_id,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeParse indicates a malformed molecule block in the library.
	ErrCodeParse = "PARSE_ERROR"

	// ErrCodeEngine indicates a docking subprocess failure.
	ErrCodeEngine = "ENGINE_FAILED"

	// ErrCodeTimeout indicates a docking subprocess timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeNoResult indicates a missing or unparsable score artifact.
	ErrCodeNoResult = "NO_RESULT"

	// ErrCodeArchive indicates an artifact upload failure.
	ErrCodeArchive = "ARCHIVE_FAILED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	Total      int64 `json:"total"`
	Dispatched int64 `json:"dispatched"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timed_out"`
	Cached     int64 `json:"cached"`
}

// Progress phase constants.
const (
	// PhaseSplitting indicates the library is being split.
	PhaseSplitting = "splitting"

	// PhaseDocking indicates docking jobs are executing.
	PhaseDocking = "docking"

	// PhaseRanking indicates results are being collected and ranked.
	PhaseRanking = "ranking"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	Molecules int64 `json:"molecules"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	Cached    int64 `json:"cached"`
	Skipped   int64 `json:"skipped"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	SummaryPath  string `json:"summary_path,omitempty"`
	TopPosesPath string `json:"top_poses_path,omitempty"`
	FailedPath   string `json:"failed_path,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "events: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
