package segment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Linkage pins ROI identity for an acquisition to one reference timepoint.
//
// Per-timepoint segmentations may record drifting positions for "the same"
// ROI index over time; whether that drift is genuine re-tracking or a
// positional convention is not decidable from the inputs. The linkage
// deliberately does not re-derive identity per timepoint: index i always
// means row i of the canonical segmentation.
type Linkage struct {
	Canonical *Segmentation
	// Region is the index region [0..N-1] every response series for the
	// acquisition is declared against.
	Region []int

	segments []*Segmentation
}

// Link designates the first segmentation as the canonical ROI set and
// verifies that every timepoint carries the same ROI count.
func Link(segments []*Segmentation) (*Linkage, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segmentations to link", ErrShapeMismatch)
	}
	n := segments[0].Len()
	for t, seg := range segments {
		if seg.Len() != n {
			return nil, fmt.Errorf("%w: timepoint %d has %d ROIs, reference has %d", ErrShapeMismatch, t, seg.Len(), n)
		}
	}

	region := make([]int, n)
	for i := range region {
		region[i] = i
	}
	return &Linkage{Canonical: segments[0], Region: region, segments: segments}, nil
}

// N returns the canonical ROI count.
func (l *Linkage) N() int { return len(l.Region) }

// Timepoints returns how many segmentations are linked.
func (l *Linkage) Timepoints() int { return len(l.segments) }

// Segmentations returns the linked per-timepoint segmentations in order.
func (l *Linkage) Segmentations() []*Segmentation { return l.segments }

// ResponseSeries attaches a timepoint × ROI-index signal matrix to the
// canonical region, with sampling metadata. Several parallel series (e.g.
// different extraction algorithms) may share one linkage.
type ResponseSeries struct {
	Name        string
	Description string
	Unit        string
	// Rate is the sampling rate in Hz.
	Rate float64
	// Data is timepoint-major: row t, column i holds the signal of
	// canonical ROI i at timepoint t.
	Data   *mat.Dense
	Region []int
}

// NewSeries validates data against the canonical region: columns must equal
// the canonical ROI count; rows are the series' timepoints.
func (l *Linkage) NewSeries(name, description, unit string, rate float64, data *mat.Dense) (*ResponseSeries, error) {
	rows, cols := data.Dims()
	if cols != l.N() {
		return nil, fmt.Errorf("%w: response matrix has %d columns, canonical region has %d ROIs", ErrShapeMismatch, cols, l.N())
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: response matrix has no timepoints", ErrShapeMismatch)
	}
	return &ResponseSeries{
		Name:        name,
		Description: description,
		Unit:        unit,
		Rate:        rate,
		Data:        data,
		Region:      l.Region,
	}, nil
}
