package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

var testLayout = Layout{FunctionalImage: "functional.tif", Quantification: "quant.csv"}

func makeAcquisition(t *testing.T, root, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	return dir
}

func TestListAcquisitions(t *testing.T) {
	root := t.TempDir()
	b := makeAcquisition(t, root, "20230506-09-15-00", "functional.tif", "quant.csv")
	a := makeAcquisition(t, root, "20230322-14-02-31", "functional.tif", "quant.csv")
	// Incomplete: missing the quantification table.
	makeAcquisition(t, root, "20230601-10-00-00", "functional.tif")
	// Not timestamp-named.
	makeAcquisition(t, root, "scratch", "functional.tif", "quant.csv")

	dirs, err := ListAcquisitions(root, testLayout)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(dirs) != 2 || dirs[0] != a || dirs[1] != b {
		t.Fatalf("dirs = %v", dirs)
	}
}

func TestIsAcquisitionDir(t *testing.T) {
	root := t.TempDir()
	dir := makeAcquisition(t, root, "20230322-14-02-31", "functional.tif", "quant.csv")

	if !IsAcquisitionDir(dir, testLayout) {
		t.Fatalf("complete acquisition rejected")
	}
	if IsAcquisitionDir(filepath.Join(root, "missing"), testLayout) {
		t.Fatalf("nonexistent dir accepted")
	}
}
