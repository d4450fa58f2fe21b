package mol2

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// FirstEntry reads the first molecule block from a multi-pose MOL2 file.
//
// Docking engines write pose ensembles ranked best-first, so the first
// entry is the best pose. Returns an error if the file contains no
// marker at all.
func FirstEntry(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pose file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	started := false
	br := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if strings.HasPrefix(line, Marker) {
				if started {
					break
				}
				started = true
			}
			if started {
				buf.WriteString(line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read pose file: %w", err)
		}
	}
	if !started {
		return nil, fmt.Errorf("pose file %s contains no %s block", path, Marker)
	}
	return buf.Bytes(), nil
}

// WriteBlock appends one molecule block to w, guaranteeing the block is
// newline-terminated so concatenated output stays parseable.
func WriteBlock(w io.Writer, block []byte) error {
	if _, err := w.Write(block); err != nil {
		return err
	}
	if len(block) > 0 && block[len(block)-1] != '\n' {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}
