package optics

import (
	"errors"
	"fmt"
)

// ErrMissingMetadata reports an absent calibration field. An imaging volume
// cannot be built without a complete physical grid mapping.
var ErrMissingMetadata = errors.New("optics: missing calibration metadata")

// Device identifies the microscope an acquisition was recorded on. One
// device is shared by every imaging volume of a session; imaging volumes
// hold a reference, they never own it.
type Device struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description"`
	Manufacturer string `yaml:"manufacturer" json:"manufacturer"`
}

// Calibration carries the physical grid mapping for an imaging volume.
// GridSpacing and Origin must both have exactly three components.
type Calibration struct {
	GridSpacing     []float64 `yaml:"grid_spacing" json:"grid_spacing"`
	GridSpacingUnit string    `yaml:"grid_spacing_unit" json:"grid_spacing_unit"`
	Origin          []float64 `yaml:"origin" json:"origin"`
	OriginUnit      string    `yaml:"origin_unit" json:"origin_unit"`
	ReferenceFrame  string    `yaml:"reference_frame" json:"reference_frame"`
}

// ChannelReference records the wavelength-code ordering an imaging volume
// was built with. Display-channel subsets (RGBW-style selections) are
// expressed as indices into this ordering.
type ChannelReference struct {
	Name  string
	Codes []string
}

// ImagingVolume is the metadata descriptor shared by a structural image
// and/or a functional time series: device, ordered channels, and physical
// calibration. Built once per acquisition per modality, then only read.
type ImagingVolume struct {
	Name            string
	Description     string
	Location        string
	Device          *Device
	Catalog         *Catalog
	GridSpacing     [3]float64
	GridSpacingUnit string
	Origin          [3]float64
	OriginUnit      string
	ReferenceFrame  string
}

// BuildImagingVolume composes a device reference, an ordered channel
// catalog and calibration into one imaging volume, and emits the channel
// reference recording the code ordering used.
func BuildImagingVolume(name, description, location string, dev *Device, cat *Catalog, cal Calibration) (*ImagingVolume, *ChannelReference, error) {
	if dev == nil {
		return nil, nil, fmt.Errorf("%w: device", ErrMissingMetadata)
	}
	if cat == nil || cat.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: channel catalog", ErrMissingMetadata)
	}
	spacing, err := vec3(cal.GridSpacing, "grid spacing")
	if err != nil {
		return nil, nil, err
	}
	origin, err := vec3(cal.Origin, "origin")
	if err != nil {
		return nil, nil, err
	}
	if cal.GridSpacingUnit == "" {
		return nil, nil, fmt.Errorf("%w: grid spacing unit", ErrMissingMetadata)
	}
	if cal.OriginUnit == "" {
		return nil, nil, fmt.Errorf("%w: origin unit", ErrMissingMetadata)
	}
	if cal.ReferenceFrame == "" {
		return nil, nil, fmt.Errorf("%w: reference frame", ErrMissingMetadata)
	}

	iv := &ImagingVolume{
		Name:            name,
		Description:     description,
		Location:        location,
		Device:          dev,
		Catalog:         cat,
		GridSpacing:     spacing,
		GridSpacingUnit: cal.GridSpacingUnit,
		Origin:          origin,
		OriginUnit:      cal.OriginUnit,
		ReferenceFrame:  cal.ReferenceFrame,
	}
	ref := &ChannelReference{Name: name + "ChannelRefs", Codes: cat.Codes()}
	return iv, ref, nil
}

func vec3(v []float64, field string) ([3]float64, error) {
	if len(v) == 0 {
		return [3]float64{}, fmt.Errorf("%w: %s", ErrMissingMetadata, field)
	}
	if len(v) != 3 {
		return [3]float64{}, fmt.Errorf("%w: %s has %d components, want 3", ErrMissingMetadata, field, len(v))
	}
	return [3]float64{v[0], v[1], v[2]}, nil
}

// ValidateDisplayChannels checks that every display-channel index addresses
// a channel of this volume's catalog.
func (iv *ImagingVolume) ValidateDisplayChannels(idx []int) error {
	for _, i := range idx {
		if i < 0 || i >= iv.Catalog.Len() {
			return fmt.Errorf("%w: display channel %d out of range [0,%d)", ErrParse, i, iv.Catalog.Len())
		}
	}
	return nil
}
