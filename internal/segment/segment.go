// Package segment builds per-timepoint ROI segmentations and links them to
// the canonical identity ordering that response matrices are addressed by.
package segment

import (
	"errors"
	"fmt"
	"math"

	"voltex/internal/optics"
)

// ErrShapeMismatch reports disagreeing ROI counts or matrix dimensions
// across the segmentations and response series of one acquisition.
var ErrShapeMismatch = errors.New("segment: shape mismatch")

// ROI is one detected object: a single-voxel point mask at the rounded
// detection center. Weight is fixed at 1 for point detections; resolution
// is limited to one coordinate per object.
type ROI struct {
	X, Y, Z uint32
	Weight  float64
	Label   string
}

// Segmentation is the ordered ROI list for one timepoint. The row order of
// the input coordinate array is the ROI order and is never changed after
// construction: downstream addressing is purely positional.
type Segmentation struct {
	Name        string
	Description string
	Volume      *optics.ImagingVolume
	// ReferenceImage optionally names the image series the detections
	// were derived from.
	ReferenceImage string
	ROIs           []ROI
}

// Build converts an N×3 coordinate array for one timepoint into a
// segmentation. labels may be nil, in which case every ROI gets an empty
// string label so the schema stays uniform across acquisitions.
func Build(name, description string, iv *optics.ImagingVolume, positions [][3]float64, labels []string) (*Segmentation, error) {
	if labels != nil && len(labels) != len(positions) {
		return nil, fmt.Errorf("%w: %d labels for %d positions", ErrShapeMismatch, len(labels), len(positions))
	}

	seg := &Segmentation{
		Name:        name,
		Description: description,
		Volume:      iv,
		ROIs:        make([]ROI, len(positions)),
	}
	for i, p := range positions {
		roi := ROI{
			X:      roundCoord(p[0]),
			Y:      roundCoord(p[1]),
			Z:      roundCoord(p[2]),
			Weight: 1,
		}
		if labels != nil {
			roi.Label = labels[i]
		}
		seg.ROIs[i] = roi
	}
	return seg, nil
}

// roundCoord rounds a detection coordinate to its voxel index. Detections
// slightly outside the volume on the negative side clamp to 0.
func roundCoord(v float64) uint32 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	return uint32(r)
}

// Len returns the ROI count.
func (s *Segmentation) Len() int { return len(s.ROIs) }

// Labels returns the ROI labels in identity order.
func (s *Segmentation) Labels() []string {
	out := make([]string, len(s.ROIs))
	for i, r := range s.ROIs {
		out[i] = r.Label
	}
	return out
}
