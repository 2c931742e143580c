package optics

import (
	"errors"
	"testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := ParseCatalog([]ChannelSpec{
		{Label: "mTagBFP2", Code: "405-460-50m"},
		{Label: "CyOFP1", Code: "488-605-70m"},
		{Label: "GFP-GCaMP", Code: "488-525-50m"},
		{Label: "mNeptune 2.5", Code: "561-700-75m"},
	})
	if err != nil {
		t.Fatalf("catalog parse failed: %v", err)
	}
	return cat
}

func fullCalibration() Calibration {
	return Calibration{
		GridSpacing:     []float64{0.3208, 0.3208, 0.75},
		GridSpacingUnit: "micrometers",
		Origin:          []float64{0, 0, 0},
		OriginUnit:      "micrometers",
		ReferenceFrame:  "worm head",
	}
}

func TestBuildImagingVolume(t *testing.T) {
	dev := &Device{Name: "Spinning disk confocal", Manufacturer: "Leica, Yokogawa"}
	cat := testCatalog(t)

	iv, ref, err := BuildImagingVolume("StructuralImVol", "structural volume", "head", dev, cat, fullCalibration())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if iv.Device != dev {
		t.Fatalf("device reference not shared")
	}
	if iv.GridSpacing != [3]float64{0.3208, 0.3208, 0.75} {
		t.Fatalf("grid spacing = %v", iv.GridSpacing)
	}
	if len(ref.Codes) != cat.Len() {
		t.Fatalf("channel reference has %d codes, want %d", len(ref.Codes), cat.Len())
	}
	for i, code := range cat.Codes() {
		if ref.Codes[i] != code {
			t.Fatalf("ref code %d = %s, want %s", i, ref.Codes[i], code)
		}
	}
}

func TestBuildImagingVolumeMissingCalibration(t *testing.T) {
	dev := &Device{Name: "scope"}
	cat := testCatalog(t)

	cases := []struct {
		name   string
		mutate func(*Calibration)
	}{
		{"no grid spacing", func(c *Calibration) { c.GridSpacing = nil }},
		{"short grid spacing", func(c *Calibration) { c.GridSpacing = []float64{1, 2} }},
		{"no spacing unit", func(c *Calibration) { c.GridSpacingUnit = "" }},
		{"no origin", func(c *Calibration) { c.Origin = nil }},
		{"no origin unit", func(c *Calibration) { c.OriginUnit = "" }},
		{"no reference frame", func(c *Calibration) { c.ReferenceFrame = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cal := fullCalibration()
			tc.mutate(&cal)
			_, _, err := BuildImagingVolume("v", "", "head", dev, cat, cal)
			if !errors.Is(err, ErrMissingMetadata) {
				t.Fatalf("expected ErrMissingMetadata, got %v", err)
			}
		})
	}
}

func TestValidateDisplayChannels(t *testing.T) {
	dev := &Device{Name: "scope"}
	cat := testCatalog(t)
	iv, _, err := BuildImagingVolume("v", "", "head", dev, cat, fullCalibration())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := iv.ValidateDisplayChannels([]int{0, 1, 3}); err != nil {
		t.Fatalf("valid display channels rejected: %v", err)
	}
	if err := iv.ValidateDisplayChannels([]int{0, 4}); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for out-of-range display channel, got %v", err)
	}
	if err := iv.ValidateDisplayChannels([]int{-1}); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for negative display channel, got %v", err)
	}
}
