// Package mol2 implements streaming access to multi-molecule MOL2
// libraries.
//
// A library file is a sequence of molecule blocks, each starting at a
// @<TRIPOS>MOLECULE marker line and running to the next marker or end of
// file. The Splitter walks that sequence lazily and records the byte
// offset of every block so a partially read library can be resumed
// without re-scanning from the start.
package mol2

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Marker begins every molecule block in a MOL2 file.
const Marker = "@<TRIPOS>MOLECULE"

// Molecule is a single dockable unit produced by the Splitter.
//
// Molecules are immutable once produced. IDs are unique within a
// library: duplicate names are suffixed _2, _3, ... and unnamed blocks
// fall back to mol_<n>.
type Molecule struct {
	// ID is the sanitized molecule name.
	ID string

	// Block is the raw MOL2 text of the molecule, marker line included.
	Block []byte

	// Offset is the byte offset of the marker line within Source.
	Offset int64

	// Index is the 0-based position in library order.
	Index int

	// Source is the path of the library file the block came from.
	Source string
}

// ParseError reports a malformed molecule block. The block is skipped;
// splitting continues at the next marker.
type ParseError struct {
	Source string
	Offset int64
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mol2: malformed block at %s:%d (molecule %d): %s", e.Source, e.Offset, e.Index, e.Reason)
}

// Splitter iterates over the molecule blocks of one library file.
//
// Splitter is not safe for concurrent use. The library file is opened
// read-only and scanned once, in order.
type Splitter struct {
	f      *os.File
	br     *bufio.Reader
	source string

	// offset is the file offset of the next unread byte.
	offset int64

	// markerOffset is the offset of a marker line already consumed from
	// the reader but not yet emitted as part of a block.
	markerOffset int64
	markerLine   string
	haveMarker   bool

	index int
	seen  map[string]int
	done  bool
}

// Open creates a Splitter positioned at the first molecule block.
// Content before the first marker is ignored.
func Open(path string) (*Splitter, error) {
	return OpenAt(path, 0, 0)
}

// OpenAt creates a Splitter positioned at the given byte offset, which
// should be the Offset of a previously emitted Molecule (or 0). index
// seeds the library-order numbering of the molecules that follow. If the
// offset does not land on a marker line the splitter scans forward to
// the next one.
func OpenAt(path string, offset int64, index int) (*Splitter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek library to %d: %w", offset, err)
		}
	}

	s := &Splitter{
		f:      f,
		br:     bufio.NewReaderSize(f, 64*1024),
		source: path,
		offset: offset,
		index:  index,
		seen:   make(map[string]int),
	}
	if err := s.advanceToMarker(); err != nil && err != io.EOF {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying file.
func (s *Splitter) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Next returns the next molecule in library order.
//
// It returns io.EOF when the library is exhausted. A malformed block
// yields a *ParseError; the splitter remains usable and the following
// call resumes at the next marker.
func (s *Splitter) Next() (*Molecule, error) {
	if s.done && !s.haveMarker {
		return nil, io.EOF
	}
	if !s.haveMarker {
		if err := s.advanceToMarker(); err != nil {
			return nil, err
		}
	}

	blockOffset := s.markerOffset
	var b strings.Builder
	b.WriteString(s.markerLine)
	s.haveMarker = false

	var lines int
	var name string
	var hasAtoms bool
	for {
		line, off, err := s.readLine()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, Marker) {
			// Start of the next block; hold it for the next call.
			s.markerOffset = off
			s.markerLine = line
			s.haveMarker = true
			break
		}
		b.WriteString(line)
		lines++
		if lines == 1 {
			name = strings.TrimSpace(line)
		}
		if strings.HasPrefix(line, "@<TRIPOS>ATOM") {
			hasAtoms = true
		}
	}

	idx := s.index
	s.index++

	if lines == 0 {
		return nil, &ParseError{Source: s.source, Offset: blockOffset, Index: idx, Reason: "truncated block: no molecule name line"}
	}
	if !hasAtoms {
		return nil, &ParseError{Source: s.source, Offset: blockOffset, Index: idx, Reason: "truncated block: missing @<TRIPOS>ATOM section"}
	}

	id := SanitizeName(name)
	if id == "" {
		id = fmt.Sprintf("mol_%d", idx+1)
	}
	if n, dup := s.seen[id]; dup {
		s.seen[id] = n + 1
		id = fmt.Sprintf("%s_%d", id, n+1)
	}
	s.seen[id] = 1

	return &Molecule{
		ID:     id,
		Block:  []byte(b.String()),
		Offset: blockOffset,
		Index:  idx,
		Source: s.source,
	}, nil
}

// advanceToMarker consumes input until a marker line is buffered.
func (s *Splitter) advanceToMarker() error {
	for {
		line, off, err := s.readLine()
		if err == io.EOF {
			s.done = true
			return io.EOF
		}
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, Marker) {
			s.markerOffset = off
			s.markerLine = line
			s.haveMarker = true
			return nil
		}
	}
}

// readLine returns one line including its terminator and the offset it
// started at.
func (s *Splitter) readLine() (string, int64, error) {
	off := s.offset
	line, err := s.br.ReadString('\n')
	if len(line) > 0 {
		s.offset += int64(len(line))
		if err == io.EOF {
			// Final line without a trailing newline still counts.
			err = nil
		}
		return line, off, err
	}
	if err != nil {
		return "", off, err
	}
	return "", off, io.EOF
}

// SanitizeName makes a molecule name safe to use as a directory name.
// Colons, slashes, and whitespace become underscores.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_", "\t", "_")
	return r.Replace(name)
}
