// Package manifest provides loading and validation of screen manifests.
//
// A screen manifest is a YAML or JSON file that configures a full
// screening run: receptor and library inputs, docking box, engine
// invocation, pool behavior, and output handling. Manifests are
// validated against a JSON Schema before execution; the schema rejects
// unknown properties so typos fail loudly instead of being ignored.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	screen:
//	  protein: receptor.pdb
//	  library: "ligands/*.mol2"
//	  out: runs/p450
//	  heme_res_num: 600
//	  chain: A
//	  box:
//	    center: [10.0, 12.5, 8.0]
//	    size: [22.5, 22.5, 22.5]
//	docking:
//	  workers: 4
//	  timeout: 10m
//	output:
//	  events: events.jsonl
package manifest

import (
	"fmt"
	"strings"
	"time"
)

// Manifest represents a validated screen manifest.
//
// Required fields are Version and Screen. Docking, Engine, Output, and
// Archive are optional with defaults applied by ApplyDefaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Screen names the inputs and the docking target.
	Screen ScreenConfig `json:"screen" yaml:"screen"`

	// Docking configures the worker pool (optional).
	Docking DockingConfig `json:"docking,omitempty" yaml:"docking,omitempty"`

	// Engine configures the docking engine invocation (optional; the
	// default command comes from the runtime config).
	Engine EngineConfig `json:"engine,omitempty" yaml:"engine,omitempty"`

	// Output configures events and the status endpoint (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// Archive configures S3 upload of run outputs (optional).
	Archive ArchiveConfig `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// ScreenConfig names the receptor, the ligand library, and the target.
type ScreenConfig struct {
	// Protein is the receptor PDB path.
	Protein string `json:"protein" yaml:"protein"`

	// Library is the multi-molecule MOL2 path or glob.
	Library string `json:"library" yaml:"library"`

	// Out is the output directory for the run.
	Out string `json:"out" yaml:"out"`

	// HemeResNum is the heme cofactor residue number (0 = unset).
	HemeResNum int `json:"heme_res_num,omitempty" yaml:"heme_res_num,omitempty"`

	// Chain is the receptor chain identifier.
	Chain string `json:"chain,omitempty" yaml:"chain,omitempty"`

	// Box optionally fixes the docking box.
	Box *BoxConfig `json:"box,omitempty" yaml:"box,omitempty"`
}

// BoxConfig is the docking box center and size, each [x, y, z] in
// Angstroms.
type BoxConfig struct {
	Center []float64 `json:"center,omitempty" yaml:"center,omitempty"`
	Size   []float64 `json:"size,omitempty" yaml:"size,omitempty"`
}

// DockingConfig configures the worker pool.
type DockingConfig struct {
	// Workers bounds concurrently running docking jobs.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Timeout is the per-job timeout as a Go duration string.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// LaunchRate caps engine launches per second (0 = unlimited).
	LaunchRate float64 `json:"launch_rate,omitempty" yaml:"launch_rate,omitempty"`

	Force       bool `json:"force,omitempty" yaml:"force,omitempty"`
	RetryFailed bool `json:"retry_failed,omitempty" yaml:"retry_failed,omitempty"`
	KeepTemp    bool `json:"keep_temp,omitempty" yaml:"keep_temp,omitempty"`
}

// EngineConfig configures the docking engine subprocess.
type EngineConfig struct {
	// Command is the engine argv prefix, e.g.
	// ["python3", "/opt/galaxydock2/run_GalaxyDock2_heme.py"].
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Home is the engine installation directory passed as -d.
	Home string `json:"home,omitempty" yaml:"home,omitempty"`
}

// OutputConfig configures run reporting.
type OutputConfig struct {
	// Events is the JSONL event file path, relative to the out dir
	// unless absolute. Empty disables event output.
	Events string `json:"events,omitempty" yaml:"events,omitempty"`

	// StatusAddr enables the HTTP status endpoint when set, e.g.
	// "127.0.0.1:8765".
	StatusAddr string `json:"status_addr,omitempty" yaml:"status_addr,omitempty"`
}

// ArchiveConfig configures upload of run outputs to object storage.
type ArchiveConfig struct {
	// Destination is an s3://bucket/prefix URI. Empty disables
	// archiving.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Profile        string `json:"profile,omitempty" yaml:"profile,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// Default values applied to optional fields.
const (
	DefaultVersion = "1.0"
	DefaultWorkers = 4
	DefaultTimeout = "10m"
)

// ApplyDefaults fills optional fields with their defaults.
func (m *Manifest) ApplyDefaults() {
	if m.Docking.Workers == 0 {
		m.Docking.Workers = DefaultWorkers
	}
	if m.Docking.Timeout == "" {
		m.Docking.Timeout = DefaultTimeout
	}
}

// TimeoutDuration parses the per-job timeout.
func (m *Manifest) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(m.Docking.Timeout)
	if err != nil {
		return 0, fmt.Errorf("manifest: invalid docking.timeout %q: %w", m.Docking.Timeout, err)
	}
	return d, nil
}

// CheckSemantics verifies constraints the JSON Schema cannot express.
func (m *Manifest) CheckSemantics() error {
	if strings.TrimSpace(m.Screen.Protein) == "" {
		return fmt.Errorf("manifest: screen.protein is required")
	}
	if strings.TrimSpace(m.Screen.Library) == "" {
		return fmt.Errorf("manifest: screen.library is required")
	}
	if strings.TrimSpace(m.Screen.Out) == "" {
		return fmt.Errorf("manifest: screen.out is required")
	}
	if m.Screen.Chain != "" && m.Screen.HemeResNum == 0 {
		return fmt.Errorf("manifest: screen.chain requires screen.heme_res_num")
	}
	if box := m.Screen.Box; box != nil {
		if len(box.Center) != 0 && len(box.Center) != 3 {
			return fmt.Errorf("manifest: screen.box.center must have exactly 3 values")
		}
		if len(box.Size) != 0 && len(box.Size) != 3 {
			return fmt.Errorf("manifest: screen.box.size must have exactly 3 values")
		}
	}
	if m.Docking.Workers < 0 {
		return fmt.Errorf("manifest: docking.workers must be positive")
	}
	if _, err := m.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}
