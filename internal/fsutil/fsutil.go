// Package fsutil locates acquisition directories under a data root.
package fsutil

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Acquisition directories are named by their start timestamp.
var acquisitionName = regexp.MustCompile(`^\d{8}-\d{2}-\d{2}-\d{2}$`)

// Layout is the subset of dataset layout fsutil needs: the files that must
// exist for a directory to count as a convertible acquisition.
type Layout struct {
	FunctionalImage string
	Quantification  string
}

// IsAcquisitionDir reports whether dir looks like a complete acquisition:
// timestamp-named and carrying the functional stack and quantification
// table.
func IsAcquisitionDir(dir string, layout Layout) bool {
	if !acquisitionName.MatchString(filepath.Base(dir)) {
		return false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	for _, name := range []string{layout.FunctionalImage, layout.Quantification} {
		if name == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// ListAcquisitions returns the complete acquisition directories directly
// under root, sorted by name (which is chronological).
func ListAcquisitions(root string, layout Layout) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if IsAcquisitionDir(dir, layout) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
