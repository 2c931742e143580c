// Package convert turns one acquisition directory into a session output
// directory: it reads the raw stacks and detection tables, builds the
// session, and streams the functional recording to disk.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voltex/internal/config"
	"voltex/internal/container"
	"voltex/internal/optics"
	"voltex/internal/segment"
	"voltex/internal/tables"
	"voltex/internal/volume"
)

// ErrMissingMetadata reports an acquisition without the sidecar metadata
// needed to label its session.
var ErrMissingMetadata = errors.New("convert: missing acquisition metadata")

// ErrBadIdentifier reports an acquisition directory whose name is not a
// YYYYMMDD-HH-MM-SS timestamp.
var ErrBadIdentifier = errors.New("convert: malformed acquisition identifier")

// Error classes recorded with failed runs.
const (
	ClassShapeMismatch   = "shape_mismatch"
	ClassParseError      = "parse_error"
	ClassMissingMetadata = "missing_metadata"
	ClassIOFailure       = "io_failure"
)

// Classify maps a conversion error onto its error class.
func Classify(err error) string {
	switch {
	case errors.Is(err, volume.ErrShapeMismatch), errors.Is(err, segment.ErrShapeMismatch):
		return ClassShapeMismatch
	case errors.Is(err, optics.ErrParse), errors.Is(err, ErrBadIdentifier),
		errors.Is(err, tables.ErrMissingColumn), errors.Is(err, tables.ErrRagged):
		return ClassParseError
	case errors.Is(err, optics.ErrMissingMetadata), errors.Is(err, ErrMissingMetadata),
		errors.Is(err, config.ErrUnknownStrain):
		return ClassMissingMetadata
	default:
		return ClassIOFailure
	}
}

// Options configures a Converter.
type Options struct {
	Dataset   *config.Dataset
	Output    string
	Lookahead int
	Compress  bool
	// Open opens a paged image stack. Defaults to volume.OpenMagickSource;
	// tests substitute in-memory sources.
	Open   func(path string) (volume.PageSource, error)
	Logger *slog.Logger
}

// Converter converts acquisition directories one at a time. Safe for
// concurrent use: conversions share no mutable state.
type Converter struct {
	dataset   *config.Dataset
	output    string
	lookahead int
	compress  bool
	open      func(path string) (volume.PageSource, error)
	log       *slog.Logger
}

// New builds a Converter.
func New(opts Options) *Converter {
	open := opts.Open
	if open == nil {
		open = func(path string) (volume.PageSource, error) {
			return volume.OpenMagickSource(path)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		dataset:   opts.Dataset,
		output:    opts.Output,
		lookahead: opts.Lookahead,
		compress:  opts.Compress,
		open:      open,
		log:       logger,
	}
}

// Stats summarizes a successful conversion.
type Stats struct {
	Timepoints int
	ROIs       int
	Channels   int
	OutputPath string
}

// acquisitionMeta is the per-acquisition sidecar JSON.
type acquisitionMeta struct {
	Strain      string `json:"strain"`
	SubjectID   string `json:"subject_id"`
	Sex         string `json:"sex"`
	GrowthStage string `json:"growth_stage"`
	DateOfBirth string `json:"date_of_birth"`
	Description string `json:"description"`
}

func readMeta(path string) (*acquisitionMeta, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var m acquisitionMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	if m.Strain == "" {
		return nil, fmt.Errorf("%w: %s has no strain", ErrMissingMetadata, path)
	}
	return &m, nil
}

// parseIdentifier turns an acquisition directory name into the session
// start time, local to the rig.
func parseIdentifier(id string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("20060102-15-04-05", id, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadIdentifier, id)
	}
	return t, nil
}

// Convert processes one acquisition directory.
func (c *Converter) Convert(ctx context.Context, dir string) (*Stats, error) {
	id := filepath.Base(dir)
	d := c.dataset
	layout := d.Layout

	loc, err := d.Location()
	if err != nil {
		return nil, err
	}
	start, err := parseIdentifier(id, loc)
	if err != nil {
		return nil, err
	}
	date := id[:8]

	meta, err := readMeta(filepath.Join(dir, layout.Metadata))
	if err != nil {
		return nil, err
	}
	strain, err := d.Strain(meta.Strain)
	if err != nil {
		return nil, err
	}

	funcEra := d.FunctionalEra(date)
	funcCat, err := optics.ParseCatalog(funcEra.Channels)
	if err != nil {
		return nil, err
	}
	funcIV, _, err := optics.BuildImagingVolume("CalciumImVol", "functional imaging volume", "head",
		&d.Device, funcCat, d.FunctionalCalibration)
	if err != nil {
		return nil, err
	}

	subjectID := meta.SubjectID
	if subjectID == "" {
		subjectID = id
	}
	session := &container.Session{
		Identifier:   id,
		Description:  d.Description,
		SessionStart: start,
		Lab:          d.Lab,
		Institution:  d.Institution,
		Experimenter: d.Experimenter,
		Device:       &d.Device,
		Subject: &container.Subject{
			ID:          subjectID,
			Description: meta.Description,
			Species:     d.Species,
			Strain:      meta.Strain,
			Genotype:    strain.Genotype,
			Sex:         meta.Sex,
			GrowthStage: meta.GrowthStage,
			DateOfBirth: meta.DateOfBirth,
		},
	}

	if layout.StructuralImage != "" {
		if err := c.addStructural(session, dir, date); err != nil {
			return nil, err
		}
	}

	q, group, err := c.buildFunctionalGroup(dir, funcIV)
	if err != nil {
		return nil, err
	}
	session.AddGroup(group)

	stream, err := c.openFunctionalStream(dir, q.Timepoints)
	if err != nil {
		return nil, err
	}
	session.AttachFunctional(&container.FunctionalSeries{
		Name:         "CalciumImageSeries",
		Description:  "raw functional recording",
		Volume:       funcIV,
		Dim:          stream.Dim(),
		Timepoints:   q.Timepoints,
		Unit:         "intensity",
		Rate:         d.Rate,
		ScanLineRate: d.ScanLineRate,
	})

	out, err := container.NewDirWriter(c.output, c.compress).Write(ctx, session, stream)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Timepoints: q.Timepoints,
		ROIs:       q.N,
		Channels:   funcCat.Len(),
		OutputPath: out,
	}, nil
}

// addStructural reads the multi-channel anatomical stack and, when present,
// its annotation table.
func (c *Converter) addStructural(session *container.Session, dir, date string) error {
	d := c.dataset
	era := d.StructuralEra(date)
	cat, err := optics.ParseCatalog(era.Channels)
	if err != nil {
		return err
	}
	iv, _, err := optics.BuildImagingVolume("NeuroPALImVol", "structural imaging volume", "head",
		&d.Device, cat, d.StructuralCalibration)
	if err != nil {
		return err
	}

	img, err := c.readStructural(filepath.Join(dir, d.Layout.StructuralImage), cat.Len(), era.Display)
	if err != nil {
		return err
	}
	if err := session.AttachStructural("NeuroPALImage", "multichannel structural stack", iv, img); err != nil {
		return err
	}

	if d.Layout.ProcessedImage != "" && len(era.Display) > 0 {
		if err := c.addProcessed(session, dir, era, cat); err != nil {
			return err
		}
	}

	if d.Layout.StructuralAnnotations == "" {
		return nil
	}
	annPath := filepath.Join(dir, d.Layout.StructuralAnnotations)
	if _, err := os.Stat(annPath); errors.Is(err, os.ErrNotExist) {
		// Annotation is a manual step; unannotated acquisitions still
		// convert, just without the structural ROI group.
		c.log.Warn("no structural annotations", "acquisition", session.Identifier)
		return nil
	}
	ann, err := tables.ReadAnnotations(annPath)
	if err != nil {
		return err
	}
	seg, err := segment.Build("NeuroPAL_ID", "annotated neuron centers", iv, ann.Positions, ann.Labels)
	if err != nil {
		return err
	}
	link, err := segment.Link([]*segment.Segmentation{seg})
	if err != nil {
		return err
	}
	session.AddGroup(&container.SegmentationGroup{Name: "structural", Linkage: link})
	return nil
}

// addProcessed attaches the histogram-matched structural stack, which keeps
// only the display subset of the structural channels.
func (c *Converter) addProcessed(session *container.Session, dir string, era config.ChannelEra, cat *optics.Catalog) error {
	d := c.dataset
	path := filepath.Join(dir, d.Layout.ProcessedImage)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// Preprocessing runs after acquisition; a raw-only directory
		// still converts.
		c.log.Warn("no processed structural image", "acquisition", session.Identifier)
		return nil
	}

	sub, err := cat.Subset(era.Display)
	if err != nil {
		return err
	}
	iv, _, err := optics.BuildImagingVolume("NeuroPALProcessedImVol", "histogram matched structural imaging volume", "head",
		&d.Device, sub, d.StructuralCalibration)
	if err != nil {
		return err
	}

	display := make([]int, sub.Len())
	for i := range display {
		display[i] = i
	}
	img, err := c.readStructural(path, sub.Len(), display)
	if err != nil {
		return err
	}
	return session.AttachProcessed("ProcessedImage", "histogram matched structural stack", iv, img)
}

// readStructural streams the structural stack, whose pages are channel-major
// blocks of equal depth, into one multi-channel image.
func (c *Converter) readStructural(path string, channels int, display []int) (*volume.MultiChannelImage, error) {
	src, err := c.open(path)
	if err != nil {
		return nil, err
	}
	pages := src.Pages()
	if pages == 0 || pages%channels != 0 {
		src.Close()
		return nil, fmt.Errorf("%w: structural stack has %d pages for %d channels",
			volume.ErrShapeMismatch, pages, channels)
	}
	nz := pages / channels

	r, err := volume.NewChunkedReader(src, nz, c.lookahead)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	dim := r.Dim()
	data := make([]uint16, 0, dim[0]*dim[1]*nz*channels)
	for r.Next() {
		data = append(data, r.Chunk().Data...)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return volume.NewMultiChannelImage(dim[0], dim[1], nz, channels, data, display)
}

// buildFunctionalGroup pivots the quantification table into per-timepoint
// segmentations, their linkage, and one response series per declared signal.
func (c *Converter) buildFunctionalGroup(dir string, iv *optics.ImagingVolume) (*tables.Quantification, *container.SegmentationGroup, error) {
	d := c.dataset
	path := filepath.Join(dir, d.Layout.Quantification)

	first, err := tables.ReadQuantification(path, d.Signals[0].Column)
	if err != nil {
		return nil, nil, err
	}

	segs := make([]*segment.Segmentation, first.Timepoints)
	for t := range segs {
		seg, err := segment.Build(fmt.Sprintf("Seg_tpoint_%d", t), "", iv, first.Positions[t], first.Labels)
		if err != nil {
			return nil, nil, err
		}
		segs[t] = seg
	}
	link, err := segment.Link(segs)
	if err != nil {
		return nil, nil, err
	}

	group := &container.SegmentationGroup{Name: "neurons", Linkage: link}
	for i, sig := range d.Signals {
		q := first
		if i > 0 {
			q, err = tables.ReadQuantification(path, sig.Column)
			if err != nil {
				return nil, nil, err
			}
			if q.Timepoints != first.Timepoints {
				return nil, nil, fmt.Errorf("%w: signal %s covers %d timepoints, %s covers %d",
					segment.ErrShapeMismatch, sig.Name, q.Timepoints, d.Signals[0].Name, first.Timepoints)
			}
		}
		rs, err := link.NewSeries(sig.Name, sig.Description, sig.Unit, d.Rate, q.Signals)
		if err != nil {
			return nil, nil, err
		}
		group.Series = append(group.Series, rs)
	}
	return first, group, nil
}

// openFunctionalStream opens the functional stack and checks its timepoint
// arithmetic against the quantification table before any chunk is written.
func (c *Converter) openFunctionalStream(dir string, timepoints int) (*volume.ChunkedReader, error) {
	src, err := c.open(filepath.Join(dir, c.dataset.Layout.FunctionalImage))
	if err != nil {
		return nil, err
	}
	r, err := volume.NewChunkedReader(src, c.dataset.ZDepth, c.lookahead)
	if err != nil {
		return nil, err
	}
	if r.Timepoints() != timepoints {
		r.Close()
		return nil, fmt.Errorf("%w: functional stack has %d timepoints, quantification has %d",
			volume.ErrShapeMismatch, r.Timepoints(), timepoints)
	}
	return r, nil
}
