package segment

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/corpusnext/papersearch/internal/index/codec"
)

// LoadManifest reads the ordered segment name list from manifest.bin. A
// missing file yields an empty list, not an error; the caller falls back to
// a directory scan.
func LoadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	n, err := codec.ReadU32(f)
	if err != nil {
		return nil, fmt.Errorf("reading manifest count: %w", err)
	}
	names := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := codec.ReadString(f)
		if err != nil {
			return nil, fmt.Errorf("reading manifest entry %d: %w", i, err)
		}
		names = append(names, s)
	}
	return names, nil
}

// SaveManifest writes the segment name list to manifest.bin, replacing any
// previous content.
func SaveManifest(path string, names []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer f.Close()

	if err := codec.WriteU32(f, uint32(len(names))); err != nil {
		return fmt.Errorf("writing manifest count: %w", err)
	}
	for _, name := range names {
		if err := codec.WriteString(f, name); err != nil {
			return fmt.Errorf("writing manifest entry %q: %w", name, err)
		}
	}
	return nil
}

// ScanSegmentDirs reconstructs the segment order by listing seg_* directory
// names under segRoot and sorting them lexicographically. Used when the
// manifest is absent or empty.
func ScanSegmentDirs(segRoot string) ([]string, error) {
	entries, err := os.ReadDir(segRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning segment root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "seg_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
