package volume

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// MagickSource reads a multi-page image stack (typically TIFF) through the
// ImageMagick bindings. One source owns one wand; pages are exported on
// demand so only the look-ahead window is ever pixel-unpacked at once.
type MagickSource struct {
	wand   *imagick.MagickWand
	pages  int
	width  int
	height int
	buf    []uint16
}

// OpenMagickSource opens path and pins the page geometry from page 0.
func OpenMagickSource(path string) (*MagickSource, error) {
	imagick.Initialize()

	wand := imagick.NewMagickWand()
	if err := wand.ReadImage(path); err != nil {
		wand.Destroy()
		imagick.Terminate()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	pages := int(wand.GetNumberImages())
	wand.SetIteratorIndex(0)
	s := &MagickSource{
		wand:   wand,
		pages:  pages,
		width:  int(wand.GetImageWidth()),
		height: int(wand.GetImageHeight()),
	}
	return s, nil
}

// Pages returns the total page count of the stack.
func (s *MagickSource) Pages() int { return s.pages }

// Width returns the samples per row of every page.
func (s *MagickSource) Width() int { return s.width }

// Height returns the row count of every page.
func (s *MagickSource) Height() int { return s.height }

// Page exports the intensity samples of page i, scaled back to the 16-bit
// range the data was collected at. The slice is reused between calls.
func (s *MagickSource) Page(i int) ([]uint16, error) {
	if i < 0 || i >= s.pages {
		return nil, fmt.Errorf("page %d out of range [0,%d)", i, s.pages)
	}
	if ok := s.wand.SetIteratorIndex(i); !ok {
		return nil, fmt.Errorf("page %d: cannot position iterator", i)
	}
	w := int(s.wand.GetImageWidth())
	h := int(s.wand.GetImageHeight())
	if w != s.width || h != s.height {
		return nil, fmt.Errorf("%w: page %d is %dx%d, want %dx%d", ErrShapeMismatch, i, w, h, s.width, s.height)
	}

	pixels, err := s.wand.ExportImagePixels(0, 0, uint(w), uint(h), "I", imagick.PIXEL_FLOAT)
	if err != nil {
		return nil, fmt.Errorf("page %d: export pixels: %w", i, err)
	}

	if cap(s.buf) < w*h {
		s.buf = make([]uint16, w*h)
	}
	out := s.buf[:w*h]
	switch v := pixels.(type) {
	case []float32:
		for j, val := range v {
			out[j] = floatToU16(float64(val))
		}
	case []float64:
		for j, val := range v {
			out[j] = floatToU16(val)
		}
	default:
		return nil, fmt.Errorf("page %d: unexpected pixel type %T", i, pixels)
	}
	return out, nil
}

// floatToU16 maps ImageMagick's normalized [0,1] intensity back onto the
// native unsigned 16-bit sample range.
func floatToU16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 65535
	}
	return uint16(v*65535 + 0.5)
}

// Close destroys the wand and releases the ImageMagick environment.
func (s *MagickSource) Close() error {
	if s.wand != nil {
		s.wand.Destroy()
		s.wand = nil
		imagick.Terminate()
	}
	return nil
}
