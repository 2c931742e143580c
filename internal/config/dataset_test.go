package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const datasetYAML = `
description: whole-brain calcium imaging
lab: Flavell Lab
institution: MIT
timezone: America/New_York
device:
  name: spinning-disk confocal
  manufacturer: Yokogawa
strains:
  SWF702:
    genotype: "flvIs17; flvIs18"
    description: pan-neuronal GCaMP
layout:
  structural_image: neuropal.tif
  structural_annotations: annotations.csv
  functional_image: functional.tif
  quantification: quant.csv
  metadata: metadata.json
z_depth: 12
rate: 1.04
scan_line_rate: 2995
structural_eras:
  - before: "20230506"
    channels:
      - {label: mTagBFP2, filter: "Semrock FF01-440/40", code: 405-440-40m}
      - {label: CyOFP1, filter: "Semrock FF02-605/70", code: 488-605-70m}
    display: [0, 1]
  - channels:
      - {label: mTagBFP2, filter: "Semrock FF01-440/40", code: 405-440-40m}
      - {label: CyOFP1.5, filter: "Semrock FF02-625/90", code: 488-625-90m}
    display: [1, 0]
functional_eras:
  - channels:
      - {label: GCaMP7f, filter: "Semrock FF02-525/40", code: 488-525-40m}
structural_calibration:
  grid_spacing: [0.3208, 0.3208, 0.75]
  grid_spacing_unit: micrometers
  origin: [0, 0, 0]
  origin_unit: micrometers
  reference_frame: worm head
functional_calibration:
  grid_spacing: [1.3, 1.3, 2.5]
  grid_spacing_unit: micrometers
  origin: [0, 0, 0]
  origin_unit: micrometers
  reference_frame: worm head
signals:
  - {name: activity, column: norm_red, unit: unitless, description: normalized fluorescence}
`

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func TestLoadDataset(t *testing.T) {
	d, err := LoadDataset(writeDataset(t, datasetYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if d.ZDepth != 12 || d.Rate != 1.04 {
		t.Fatalf("z_depth = %d, rate = %v", d.ZDepth, d.Rate)
	}
	if d.Layout.FunctionalImage != "functional.tif" {
		t.Fatalf("layout = %+v", d.Layout)
	}
	loc, err := d.Location()
	if err != nil {
		t.Fatalf("timezone: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Fatalf("location = %v", loc)
	}
}

func TestDatasetEraSelection(t *testing.T) {
	d, err := LoadDataset(writeDataset(t, datasetYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	early := d.StructuralEra("20230322")
	if early.Channels[1].Label != "CyOFP1" {
		t.Fatalf("early era picked %q", early.Channels[1].Label)
	}
	late := d.StructuralEra("20230506")
	if late.Channels[1].Label != "CyOFP1.5" {
		t.Fatalf("boundary date must fall in the later era, got %q", late.Channels[1].Label)
	}
	if got := d.FunctionalEra("20230322"); got.Channels[0].Label != "GCaMP7f" {
		t.Fatalf("functional era picked %q", got.Channels[0].Label)
	}
}

func TestDatasetStrainLookup(t *testing.T) {
	d, err := LoadDataset(writeDataset(t, datasetYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	s, err := d.Strain("SWF702")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if s.Genotype == "" {
		t.Fatalf("strain has no genotype")
	}
	if _, err := d.Strain("SWF999"); !errors.Is(err, ErrUnknownStrain) {
		t.Fatalf("expected ErrUnknownStrain, got %v", err)
	}
}

func TestDatasetRejectsMisorderedEras(t *testing.T) {
	bad := `
z_depth: 12
structural_eras:
  - channels:
      - {label: a, filter: f, code: 405-440-40m}
  - before: "20230506"
    channels:
      - {label: b, filter: f, code: 405-440-40m}
functional_eras:
  - channels:
      - {label: c, filter: f, code: 488-525-40m}
signals:
  - {name: activity, column: norm_red, unit: unitless}
`
	if _, err := LoadDataset(writeDataset(t, bad)); err == nil {
		t.Fatalf("expected error for open-ended era before the last")
	}
}
