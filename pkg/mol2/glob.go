package mol2

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandLibraries resolves a library argument to concrete file paths.
//
// The argument may be a plain path or a doublestar glob
// (e.g. "libs/**/*.mol2"). Matches are returned in lexical order so
// multi-file libraries enumerate deterministically.
func ExpandLibraries(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expand library pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("library pattern %q matched no files", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}
