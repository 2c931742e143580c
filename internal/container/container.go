// Package container assembles one acquisition's converted artifacts into a
// session and serializes it as a self-describing output directory.
package container

import (
	"fmt"
	"time"

	"voltex/internal/optics"
	"voltex/internal/segment"
	"voltex/internal/volume"
)

// Subject describes the imaged animal.
type Subject struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Species     string `json:"species"`
	Strain      string `json:"strain"`
	Genotype    string `json:"genotype,omitempty"`
	Sex         string `json:"sex,omitempty"`
	GrowthStage string `json:"growth_stage,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// StructuralImage is a multi-channel anatomical stack bound to the imaging
// volume that describes its channels and calibration.
type StructuralImage struct {
	Name        string
	Description string
	Volume      *optics.ImagingVolume
	Image       *volume.MultiChannelImage
}

// FunctionalSeries describes the streamed functional recording: its imaging
// volume, shape, and sampling metadata. Voxel data is not held in memory;
// the writer streams it from a chunk reader.
type FunctionalSeries struct {
	Name         string
	Description  string
	Volume       *optics.ImagingVolume
	Dim          [3]int
	Timepoints   int
	Unit         string
	Rate         float64
	ScanLineRate float64
}

// SegmentationGroup couples an acquisition's per-timepoint segmentations,
// their canonical linkage, and the response series declared against it.
type SegmentationGroup struct {
	Name    string
	Linkage *segment.Linkage
	Series  []*segment.ResponseSeries
}

// Session is the root assembly for one converted acquisition.
type Session struct {
	Identifier   string
	Description  string
	SessionStart time.Time
	Lab          string
	Institution  string
	Experimenter string

	Subject *Subject
	Device  *optics.Device

	Structural *StructuralImage
	// Processed is the histogram-matched rendition of the structural
	// stack, reduced to its display channel subset.
	Processed  *StructuralImage
	Functional *FunctionalSeries
	Groups     []*SegmentationGroup
}

// AttachStructural validates the image against its imaging volume before
// binding it: the channel axis must match the catalog, and every display
// channel must address a real catalog entry.
func (s *Session) AttachStructural(name, description string, iv *optics.ImagingVolume, img *volume.MultiChannelImage) error {
	si, err := bindStructural(name, description, iv, img)
	if err != nil {
		return err
	}
	s.Structural = si
	return nil
}

// AttachProcessed binds the processed structural stack, with the same
// validation as AttachStructural.
func (s *Session) AttachProcessed(name, description string, iv *optics.ImagingVolume, img *volume.MultiChannelImage) error {
	si, err := bindStructural(name, description, iv, img)
	if err != nil {
		return err
	}
	s.Processed = si
	return nil
}

func bindStructural(name, description string, iv *optics.ImagingVolume, img *volume.MultiChannelImage) (*StructuralImage, error) {
	if img.Channels() != iv.Catalog.Len() {
		return nil, fmt.Errorf("%w: image has %d channels, catalog has %d",
			volume.ErrShapeMismatch, img.Channels(), iv.Catalog.Len())
	}
	if err := iv.ValidateDisplayChannels(img.DisplayChannels); err != nil {
		return nil, err
	}
	return &StructuralImage{Name: name, Description: description, Volume: iv, Image: img}, nil
}

// AttachFunctional records the functional series descriptor.
func (s *Session) AttachFunctional(f *FunctionalSeries) {
	s.Functional = f
}

// AddGroup appends a segmentation group.
func (s *Session) AddGroup(g *SegmentationGroup) {
	s.Groups = append(s.Groups, g)
}
