// Package tables ingests the externally computed detection tables: the
// structural annotation CSV and the long-format per-timepoint signal
// quantification CSV.
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// ErrMissingColumn reports a table without a required header column.
var ErrMissingColumn = errors.New("tables: missing column")

// ErrRagged reports a table whose per-object timepoint coverage is uneven,
// which would break the one-ROI-count-per-acquisition invariant.
var ErrRagged = errors.New("tables: ragged timepoint coverage")

// Annotation holds the structural detection table: one row per neuron, in
// file order. Missing identity labels are empty strings, never nulls.
type Annotation struct {
	Positions [][3]float64
	Labels    []string
}

// ReadAnnotations parses a CSV with X, Y, Z and optional ID columns.
func ReadAnnotations(path string) (*Annotation, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	xi, err := columnIndex(header, "X", path)
	if err != nil {
		return nil, err
	}
	yi, err := columnIndex(header, "Y", path)
	if err != nil {
		return nil, err
	}
	zi, err := columnIndex(header, "Z", path)
	if err != nil {
		return nil, err
	}
	li := findColumn(header, "ID") // optional

	ann := &Annotation{
		Positions: make([][3]float64, 0, len(rows)),
		Labels:    make([]string, 0, len(rows)),
	}
	for n, row := range rows {
		pos, err := rowPosition(row, xi, yi, zi)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, n+2, err)
		}
		ann.Positions = append(ann.Positions, pos)
		label := ""
		if li >= 0 && li < len(row) {
			label = row[li]
		}
		ann.Labels = append(ann.Labels, label)
	}
	return ann, nil
}

// Quantification is the long-format signal table pivoted into the shapes
// the segmentation builder and response assembler consume: per-timepoint
// position arrays in a fixed object order, plus a timepoint × object signal
// matrix addressed by that same order.
type Quantification struct {
	Timepoints int
	N          int
	// Positions[t][i] is the detection center of object i at timepoint t.
	// Object order is the order of first appearance in the table and is
	// identical across timepoints.
	Positions [][][3]float64
	// Signals is timepoint-major: row t, column i.
	Signals *mat.Dense
	// Labels holds per-object identity labels from the reference
	// timepoint's rows (empty strings when the table carries none).
	Labels []string
}

type quantRow struct {
	t      int
	pos    [3]float64
	signal float64
	label  string
}

// ReadQuantification parses and pivots a long-format CSV carrying one row
// per (object, timepoint) with columns blob_ix, T, X, Y, Z, the named
// signal column, and optional ID.
func ReadQuantification(path, signalColumn string) (*Quantification, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	bi, err := columnIndex(header, "blob_ix", path)
	if err != nil {
		return nil, err
	}
	ti, err := columnIndex(header, "T", path)
	if err != nil {
		return nil, err
	}
	xi, err := columnIndex(header, "X", path)
	if err != nil {
		return nil, err
	}
	yi, err := columnIndex(header, "Y", path)
	if err != nil {
		return nil, err
	}
	zi, err := columnIndex(header, "Z", path)
	if err != nil {
		return nil, err
	}
	si, err := columnIndex(header, signalColumn, path)
	if err != nil {
		return nil, err
	}
	li := findColumn(header, "ID") // optional

	// Group rows by object in order of first appearance.
	var order []string
	groups := make(map[string][]quantRow)
	for n, row := range rows {
		blob := row[bi]
		tp, err := strconv.Atoi(row[ti])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: timepoint %q: %w", path, n+2, row[ti], err)
		}
		pos, err := rowPosition(row, xi, yi, zi)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, n+2, err)
		}
		sig, err := strconv.ParseFloat(row[si], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: signal %q: %w", path, n+2, row[si], err)
		}
		label := ""
		if li >= 0 && li < len(row) {
			label = row[li]
		}
		if _, seen := groups[blob]; !seen {
			order = append(order, blob)
		}
		groups[blob] = append(groups[blob], quantRow{t: tp, pos: pos, signal: sig, label: label})
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: %s has no data rows", ErrRagged, path)
	}

	// Every object must cover the same timepoints.
	timepoints := len(groups[order[0]])
	for _, blob := range order {
		g := groups[blob]
		if len(g) != timepoints {
			return nil, fmt.Errorf("%w: object %s has %d timepoints, object %s has %d",
				ErrRagged, blob, len(g), order[0], timepoints)
		}
		sort.Slice(g, func(a, b int) bool { return g[a].t < g[b].t })
	}

	q := &Quantification{
		Timepoints: timepoints,
		N:          len(order),
		Positions:  make([][][3]float64, timepoints),
		Signals:    mat.NewDense(timepoints, len(order), nil),
		Labels:     make([]string, len(order)),
	}
	for t := 0; t < timepoints; t++ {
		q.Positions[t] = make([][3]float64, len(order))
	}
	for i, blob := range order {
		g := groups[blob]
		q.Labels[i] = g[0].label
		for t, row := range g {
			q.Positions[t][i] = row.pos
			q.Signals.Set(t, i, row.signal)
		}
	}
	return q, nil
}

func readCSV(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.TrimLeadingSpace = true
	records, err := rd.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrMissingColumn, path)
	}
	return records[0], records[1:], nil
}

func findColumn(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func columnIndex(header []string, name, path string) (int, error) {
	if i := findColumn(header, name); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s has no %q column", ErrMissingColumn, path, name)
}

func rowPosition(row []string, xi, yi, zi int) ([3]float64, error) {
	var pos [3]float64
	for k, i := range []int{xi, yi, zi} {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return pos, fmt.Errorf("coordinate %q: %w", row[i], err)
		}
		pos[k] = v
	}
	return pos, nil
}
