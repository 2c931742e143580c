package tables

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTable(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func TestReadAnnotations(t *testing.T) {
	path := writeTable(t, "annotations.csv",
		"X,Y,Z,ID\n"+
			"10.5,20.25,3,AVAL\n"+
			"11,21,4,\n"+
			"12,22,5,RID\n")

	ann, err := ReadAnnotations(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	wantPos := [][3]float64{{10.5, 20.25, 3}, {11, 21, 4}, {12, 22, 5}}
	if diff := cmp.Diff(wantPos, ann.Positions); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AVAL", "", "RID"}, ann.Labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestReadAnnotationsWithoutIDColumn(t *testing.T) {
	path := writeTable(t, "annotations.csv",
		"X,Y,Z\n1,2,3\n4,5,6\n")

	ann, err := ReadAnnotations(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if diff := cmp.Diff([]string{"", ""}, ann.Labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestReadAnnotationsMissingColumn(t *testing.T) {
	path := writeTable(t, "annotations.csv", "X,Y\n1,2\n")
	if _, err := ReadAnnotations(path); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadQuantificationPivots(t *testing.T) {
	// Two objects over three timepoints, rows deliberately unsorted by T.
	path := writeTable(t, "quant.csv",
		"blob_ix,T,X,Y,Z,norm_red,ID\n"+
			"7,1,10.1,20.1,3,0.11,AVAL\n"+
			"7,0,10.0,20.0,3,0.10,AVAL\n"+
			"7,2,10.2,20.2,3,0.12,AVAL\n"+
			"9,0,30.0,40.0,5,0.90,\n"+
			"9,1,30.1,40.1,5,0.91,\n"+
			"9,2,30.2,40.2,5,0.92,\n")

	q, err := ReadQuantification(path, "norm_red")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if q.Timepoints != 3 || q.N != 2 {
		t.Fatalf("pivot shape %dx%d, want 3x2", q.Timepoints, q.N)
	}
	if diff := cmp.Diff([]string{"AVAL", ""}, q.Labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	// First-appearance order: blob 7 is column 0, blob 9 column 1.
	if got := q.Signals.At(2, 0); got != 0.12 {
		t.Fatalf("Signals[2][0] = %v, want 0.12", got)
	}
	if got := q.Signals.At(1, 1); got != 0.91 {
		t.Fatalf("Signals[1][1] = %v, want 0.91", got)
	}
	want := [3]float64{10.2, 20.2, 3}
	if q.Positions[2][0] != want {
		t.Fatalf("Positions[2][0] = %v, want %v", q.Positions[2][0], want)
	}
}

func TestReadQuantificationRejectsRaggedCoverage(t *testing.T) {
	path := writeTable(t, "quant.csv",
		"blob_ix,T,X,Y,Z,norm_red\n"+
			"7,0,1,2,3,0.1\n"+
			"7,1,1,2,3,0.2\n"+
			"9,0,4,5,6,0.3\n")

	if _, err := ReadQuantification(path, "norm_red"); !errors.Is(err, ErrRagged) {
		t.Fatalf("expected ErrRagged, got %v", err)
	}
}

func TestReadQuantificationMissingSignalColumn(t *testing.T) {
	path := writeTable(t, "quant.csv",
		"blob_ix,T,X,Y,Z,norm_red\n7,0,1,2,3,0.1\n")

	if _, err := ReadQuantification(path, "dnmf"); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}
