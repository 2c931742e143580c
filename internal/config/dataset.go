package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voltex/internal/optics"
)

// ErrUnknownStrain reports an acquisition whose strain has no entry in the
// dataset description.
var ErrUnknownStrain = errors.New("config: unknown strain")

// Strain describes one worm line used in the dataset.
type Strain struct {
	Genotype    string `yaml:"genotype"`
	Description string `yaml:"description"`
}

// Layout names an acquisition directory's files, relative to the
// acquisition directory.
type Layout struct {
	StructuralImage       string `yaml:"structural_image"`
	StructuralAnnotations string `yaml:"structural_annotations"`
	ProcessedImage        string `yaml:"processed_image"`
	FunctionalImage       string `yaml:"functional_image"`
	Quantification        string `yaml:"quantification"`
	Metadata              string `yaml:"metadata"`
}

// ChannelEra is one hardware configuration period. Eras are ordered; an era
// applies to acquisition dates strictly before its Before date (YYYYMMDD),
// and the final era must be open-ended.
type ChannelEra struct {
	Before   string               `yaml:"before,omitempty"`
	Channels []optics.ChannelSpec `yaml:"channels"`
	// Display selects the RGBW rendering subset as indices into Channels.
	Display []int `yaml:"display,omitempty"`
}

// Signal names one quantification column to convert into a response series.
type Signal struct {
	Name        string `yaml:"name"`
	Column      string `yaml:"column"`
	Unit        string `yaml:"unit"`
	Description string `yaml:"description"`
}

// Dataset is the versioned description of a recording campaign: everything
// acquisition conversion needs that is not derivable from the acquisition
// directory itself.
type Dataset struct {
	Description  string   `yaml:"description"`
	Lab          string   `yaml:"lab"`
	Institution  string   `yaml:"institution"`
	Experimenter string   `yaml:"experimenter"`
	Keywords     []string `yaml:"keywords"`
	Timezone     string   `yaml:"timezone"`
	Species      string   `yaml:"species"`

	Device optics.Device `yaml:"device"`

	Strains map[string]Strain `yaml:"strains"`
	Layout  Layout            `yaml:"layout"`

	ZDepth       int     `yaml:"z_depth"`
	Rate         float64 `yaml:"rate"`
	ScanLineRate float64 `yaml:"scan_line_rate"`

	StructuralEras []ChannelEra `yaml:"structural_eras"`
	FunctionalEras []ChannelEra `yaml:"functional_eras"`

	StructuralCalibration optics.Calibration `yaml:"structural_calibration"`
	FunctionalCalibration optics.Calibration `yaml:"functional_calibration"`

	Signals []Signal `yaml:"signals"`
}

// LoadDataset reads and validates a dataset description.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var d Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if err := validateEras("structural_eras", d.StructuralEras); err != nil {
		return nil, err
	}
	if err := validateEras("functional_eras", d.FunctionalEras); err != nil {
		return nil, err
	}
	if d.ZDepth <= 0 {
		return nil, fmt.Errorf("dataset %s: z_depth must be positive", path)
	}
	if len(d.Signals) == 0 {
		return nil, fmt.Errorf("dataset %s: no signals declared", path)
	}
	return &d, nil
}

func validateEras(field string, eras []ChannelEra) error {
	if len(eras) == 0 {
		return fmt.Errorf("dataset: %s is empty", field)
	}
	for i, era := range eras {
		if len(era.Channels) == 0 {
			return fmt.Errorf("dataset: %s[%d] has no channels", field, i)
		}
		open := era.Before == ""
		if open != (i == len(eras)-1) {
			return fmt.Errorf("dataset: %s[%d] must be open-ended exactly when it is last", field, i)
		}
	}
	return nil
}

// Strain resolves a strain name. Unknown strains are a hard error so that a
// typo in an acquisition's metadata cannot silently produce an unlabeled
// session.
func (d *Dataset) Strain(name string) (Strain, error) {
	s, ok := d.Strains[name]
	if !ok {
		return Strain{}, fmt.Errorf("%w: %q", ErrUnknownStrain, name)
	}
	return s, nil
}

// eraFor picks the first era whose Before date is after the acquisition
// date. Dates are YYYYMMDD strings, so lexicographic comparison is
// chronological.
func eraFor(eras []ChannelEra, date string) ChannelEra {
	for _, era := range eras {
		if era.Before != "" && date < era.Before {
			return era
		}
	}
	return eras[len(eras)-1]
}

// StructuralEra returns the structural channel configuration in effect on
// the given acquisition date (YYYYMMDD).
func (d *Dataset) StructuralEra(date string) ChannelEra {
	return eraFor(d.StructuralEras, date)
}

// FunctionalEra returns the functional channel configuration in effect on
// the given acquisition date (YYYYMMDD).
func (d *Dataset) FunctionalEra(date string) ChannelEra {
	return eraFor(d.FunctionalEras, date)
}

// Location resolves the dataset timezone; acquisition timestamps are local
// to the rig.
func (d *Dataset) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("dataset timezone: %w", err)
	}
	return loc, nil
}
