package container

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"

	"voltex/internal/optics"
	"voltex/internal/segment"
	"voltex/internal/volume"
)

// DirWriter serializes a session as a directory: bulk arrays as raw
// little-endian files (functional chunks gzip-compressed), and a session.json
// manifest describing everything. The manifest is written last, so its
// presence marks a complete output.
//
// Nothing in the output depends on wall-clock time; converting the same
// acquisition twice produces byte-identical directories.
type DirWriter struct {
	root     string
	compress bool
}

// NewDirWriter writes under root/<identifier>. compress controls gzip on
// the functional chunk files.
func NewDirWriter(root string, compress bool) *DirWriter {
	return &DirWriter{root: root, compress: compress}
}

type manifest struct {
	Identifier   string   `json:"identifier"`
	Description  string   `json:"description"`
	SessionStart string   `json:"session_start"`
	Lab          string   `json:"lab,omitempty"`
	Institution  string   `json:"institution,omitempty"`
	Experimenter string   `json:"experimenter,omitempty"`
	Subject      *Subject `json:"subject,omitempty"`

	Device *optics.Device `json:"device"`

	Structural *structuralManifest `json:"structural,omitempty"`
	Processed  *structuralManifest `json:"processed,omitempty"`
	Functional *functionalManifest `json:"functional,omitempty"`
	Groups     []groupManifest     `json:"segmentation_groups,omitempty"`
}

type imagingVolumeManifest struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Location        string           `json:"location"`
	Channels        []optics.Channel `json:"channels"`
	GridSpacing     [3]float64       `json:"grid_spacing"`
	GridSpacingUnit string           `json:"grid_spacing_unit"`
	Origin          [3]float64       `json:"origin"`
	OriginUnit      string           `json:"origin_unit"`
	ReferenceFrame  string           `json:"reference_frame"`
}

type structuralManifest struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Volume          imagingVolumeManifest `json:"imaging_volume"`
	Dim             [3]int                `json:"dim"`
	Channels        int                   `json:"channels"`
	DisplayChannels []int                 `json:"display_channels,omitempty"`
	File            string                `json:"file"`
}

type functionalManifest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Volume       imagingVolumeManifest `json:"imaging_volume"`
	Dim          [3]int                `json:"dim"`
	Timepoints   int                   `json:"timepoints"`
	Unit         string                `json:"unit"`
	Rate         float64               `json:"rate"`
	ScanLineRate float64               `json:"scan_line_rate,omitempty"`
	ChunkPattern string                `json:"chunk_pattern"`
	Compressed   bool                  `json:"compressed"`
}

type roiManifest struct {
	X      uint32  `json:"x"`
	Y      uint32  `json:"y"`
	Z      uint32  `json:"z"`
	Weight float64 `json:"weight"`
	Label  string  `json:"label"`
}

type seriesManifest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Rate        float64 `json:"rate"`
	Timepoints  int     `json:"timepoints"`
	ROIs        int     `json:"rois"`
	File        string  `json:"file"`
}

type groupManifest struct {
	Name       string           `json:"name"`
	Timepoints int              `json:"timepoints"`
	Region     []int            `json:"region"`
	Canonical  []roiManifest    `json:"canonical_rois"`
	ROIFile    string           `json:"roi_file"`
	Series     []seriesManifest `json:"response_series"`
}

// Write serializes the session. The chunk reader, when non-nil, supplies the
// functional voxel stream and is always released before Write returns. The
// returned path is the session directory.
func (w *DirWriter) Write(ctx context.Context, s *Session, chunks *volume.ChunkedReader) (string, error) {
	if chunks != nil {
		defer chunks.Close()
	}

	dir := filepath.Join(w.root, s.Identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	m := manifest{
		Identifier:   s.Identifier,
		Description:  s.Description,
		SessionStart: s.SessionStart.Format("2006-01-02T15:04:05-07:00"),
		Lab:          s.Lab,
		Institution:  s.Institution,
		Experimenter: s.Experimenter,
		Subject:      s.Subject,
		Device:       s.Device,
	}

	if s.Structural != nil {
		sm, err := writeStructural(dir, "structural.u16", s.Structural)
		if err != nil {
			return "", err
		}
		m.Structural = sm
	}

	if s.Processed != nil {
		sm, err := writeStructural(dir, "processed.u16", s.Processed)
		if err != nil {
			return "", err
		}
		m.Processed = sm
	}

	if s.Functional != nil {
		if chunks == nil {
			return "", fmt.Errorf("%w: functional series declared but no chunk stream", volume.ErrShapeMismatch)
		}
		fm, err := w.writeFunctional(ctx, dir, s.Functional, chunks)
		if err != nil {
			return "", err
		}
		m.Functional = fm
	}

	for _, g := range s.Groups {
		gm, err := w.writeGroup(dir, g)
		if err != nil {
			return "", err
		}
		m.Groups = append(m.Groups, gm)
	}

	if err := writeJSON(filepath.Join(dir, "session.json"), &m); err != nil {
		return "", err
	}
	return dir, nil
}

func writeStructural(dir, file string, si *StructuralImage) (*structuralManifest, error) {
	if err := writeU16(filepath.Join(dir, file), si.Image.Data); err != nil {
		return nil, err
	}
	img := si.Image
	return &structuralManifest{
		Name:            si.Name,
		Description:     si.Description,
		Volume:          volumeManifest(si.Volume),
		Dim:             [3]int{img.NX, img.NY, img.NZ},
		Channels:        img.NC,
		DisplayChannels: img.DisplayChannels,
		File:            file,
	}, nil
}

func volumeManifest(iv *optics.ImagingVolume) imagingVolumeManifest {
	return imagingVolumeManifest{
		Name:            iv.Name,
		Description:     iv.Description,
		Location:        iv.Location,
		Channels:        iv.Catalog.Channels,
		GridSpacing:     iv.GridSpacing,
		GridSpacingUnit: iv.GridSpacingUnit,
		Origin:          iv.Origin,
		OriginUnit:      iv.OriginUnit,
		ReferenceFrame:  iv.ReferenceFrame,
	}
}

func (w *DirWriter) writeFunctional(ctx context.Context, dir string, f *FunctionalSeries, chunks *volume.ChunkedReader) (*functionalManifest, error) {
	sub := filepath.Join(dir, "functional")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return nil, fmt.Errorf("create functional dir: %w", err)
	}

	ext := ".u16"
	if w.compress {
		ext = ".u16.gz"
	}

	written := 0
	for chunks.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vol := chunks.Chunk()
		if vol.Dim() != f.Dim {
			return nil, fmt.Errorf("%w: chunk %d shape %v, series declares %v",
				volume.ErrShapeMismatch, written, vol.Dim(), f.Dim)
		}
		path := filepath.Join(sub, fmt.Sprintf("tp_%05d%s", written, ext))
		var err error
		if w.compress {
			err = writeU16Gzip(path, vol.Data)
		} else {
			err = writeU16(path, vol.Data)
		}
		if err != nil {
			return nil, err
		}
		written++
	}
	if err := chunks.Err(); err != nil {
		return nil, err
	}
	if written != f.Timepoints {
		return nil, fmt.Errorf("%w: stream yielded %d timepoints, series declares %d",
			volume.ErrShapeMismatch, written, f.Timepoints)
	}

	return &functionalManifest{
		Name:         f.Name,
		Description:  f.Description,
		Volume:       volumeManifest(f.Volume),
		Dim:          f.Dim,
		Timepoints:   f.Timepoints,
		Unit:         f.Unit,
		Rate:         f.Rate,
		ScanLineRate: f.ScanLineRate,
		ChunkPattern: "functional/tp_%05d" + ext,
		Compressed:   w.compress,
	}, nil
}

func (w *DirWriter) writeGroup(dir string, g *SegmentationGroup) (groupManifest, error) {
	segs := g.Linkage.Segmentations()

	canonical := make([]roiManifest, 0, g.Linkage.N())
	for _, r := range g.Linkage.Canonical.ROIs {
		canonical = append(canonical, roiManifest{X: r.X, Y: r.Y, Z: r.Z, Weight: r.Weight, Label: r.Label})
	}

	// Per-timepoint ROI voxel coordinates, flattened (t, i, xyz), uint32.
	roiFile := fmt.Sprintf("%s_rois.u32.gz", g.Name)
	coords := make([]uint32, 0, len(segs)*g.Linkage.N()*3)
	for _, seg := range segs {
		for _, r := range seg.ROIs {
			coords = append(coords, r.X, r.Y, r.Z)
		}
	}
	if err := writeU32Gzip(filepath.Join(dir, roiFile), coords); err != nil {
		return groupManifest{}, err
	}

	gm := groupManifest{
		Name:       g.Name,
		Timepoints: g.Linkage.Timepoints(),
		Region:     g.Linkage.Region,
		Canonical:  canonical,
		ROIFile:    roiFile,
	}
	for _, rs := range g.Series {
		rows, cols := rs.Data.Dims()
		file := fmt.Sprintf("%s_%s.f64", g.Name, rs.Name)
		if err := writeF64(filepath.Join(dir, file), rs.Data); err != nil {
			return groupManifest{}, err
		}
		gm.Series = append(gm.Series, seriesManifest{
			Name:        rs.Name,
			Description: rs.Description,
			Unit:        rs.Unit,
			Rate:        rs.Rate,
			Timepoints:  rows,
			ROIs:        cols,
			File:        file,
		})
	}
	return gm, nil
}

func writeU16(path string, data []uint16) error {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeU16Gzip(path string, data []uint16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	zw := gzip.NewWriter(f)
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	if _, err := zw.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeU32Gzip(path string, data []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	zw := gzip.NewWriter(f)
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	if _, err := zw.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeF64(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	buf := make([]byte, rows*cols*8)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			binary.LittleEndian.PutUint64(buf[(r*cols+c)*8:], math.Float64bits(m.At(r, c)))
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
