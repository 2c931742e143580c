package volume

import (
	"errors"
	"fmt"
	"testing"
)

// fakeSource serves synthetic pages where sample (row y, col x) of page p
// equals p*10000 + y*100 + x, making provenance checkable per voxel.
type fakeSource struct {
	pages, width, height int
	closed               bool
	pageErrAt            int // fail at this page index when >= 0
}

func newFakeSource(pages, width, height int) *fakeSource {
	return &fakeSource{pages: pages, width: width, height: height, pageErrAt: -1}
}

func (f *fakeSource) Pages() int  { return f.pages }
func (f *fakeSource) Width() int  { return f.width }
func (f *fakeSource) Height() int { return f.height }

func (f *fakeSource) Page(i int) ([]uint16, error) {
	if f.pageErrAt >= 0 && i == f.pageErrAt {
		return nil, fmt.Errorf("synthetic read failure at page %d", i)
	}
	page := make([]uint16, f.width*f.height)
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			page[y*f.width+x] = uint16(i*10000 + y*100 + x)
		}
	}
	return page, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestChunkedReaderYieldsAllTimepoints(t *testing.T) {
	// 6 pages at Z=2 is the canonical 3-timepoint scenario.
	src := newFakeSource(6, 4, 3)
	r, err := NewChunkedReader(src, 2, DefaultLookahead)
	if err != nil {
		t.Fatalf("reader construction failed: %v", err)
	}
	defer r.Close()

	if r.Timepoints() != 3 {
		t.Fatalf("timepoints = %d, want 3", r.Timepoints())
	}
	if r.Dim() != [3]int{4, 3, 2} {
		t.Fatalf("dim = %v, want [4 3 2]", r.Dim())
	}

	var count int
	for r.Next() {
		vol := r.Chunk()
		if vol.Dim() != [3]int{4, 3, 2} {
			t.Fatalf("chunk %d has shape %v", count, vol.Dim())
		}
		// Voxel (x,y,z) of timepoint t must come from page t*Z+z at
		// native position (row y, col x).
		for z := 0; z < 2; z++ {
			for y := 0; y < 3; y++ {
				for x := 0; x < 4; x++ {
					want := uint16((count*2+z)*10000 + y*100 + x)
					if got := vol.At(x, y, z); got != want {
						t.Fatalf("chunk %d voxel (%d,%d,%d) = %d, want %d", count, x, y, z, got, want)
					}
				}
			}
		}
		count++
	}
	if err := r.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if count != 3 {
		t.Fatalf("yielded %d chunks, want 3", count)
	}
	r.Close()
	if !src.closed {
		t.Fatalf("source not released after completion")
	}
}

func TestChunkedReaderRejectsUnevenPageCount(t *testing.T) {
	src := newFakeSource(7, 4, 3)
	_, err := NewChunkedReader(src, 2, 0)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if !src.closed {
		t.Fatalf("source not released on constructor error")
	}
}

func TestChunkedReaderEmptySource(t *testing.T) {
	// Zero pages divide evenly into any depth: zero timepoints, no error.
	src := newFakeSource(0, 4, 3)
	r, err := NewChunkedReader(src, 2, 0)
	if err != nil {
		t.Fatalf("reader construction failed: %v", err)
	}
	if r.Timepoints() != 0 {
		t.Fatalf("timepoints = %d, want 0", r.Timepoints())
	}
	if r.Next() {
		t.Fatalf("empty stream yielded a chunk")
	}
	if err := r.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !src.closed {
		t.Fatalf("source not released after empty stream")
	}
}

func TestChunkedReaderRejectsNonPositiveDepth(t *testing.T) {
	src := newFakeSource(6, 4, 3)
	if _, err := NewChunkedReader(src, 0, 0); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if !src.closed {
		t.Fatalf("source not released on constructor error")
	}
}

func TestChunkedReaderEarlyClose(t *testing.T) {
	src := newFakeSource(200, 8, 8)
	r, err := NewChunkedReader(src, 2, 3)
	if err != nil {
		t.Fatalf("reader construction failed: %v", err)
	}
	if !r.Next() {
		t.Fatalf("expected at least one chunk")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !src.closed {
		t.Fatalf("source not released on early close")
	}
	// Closing again must be harmless.
	if err := r.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestChunkedReaderPropagatesPageError(t *testing.T) {
	src := newFakeSource(6, 4, 3)
	src.pageErrAt = 3
	r, err := NewChunkedReader(src, 2, 1)
	if err != nil {
		t.Fatalf("reader construction failed: %v", err)
	}
	defer r.Close()

	var count int
	for r.Next() {
		count++
	}
	if count != 1 {
		t.Fatalf("yielded %d chunks before failure, want 1", count)
	}
	if r.Err() == nil {
		t.Fatalf("expected stream error after page failure")
	}
	r.Close()
	if !src.closed {
		t.Fatalf("source not released after error")
	}
}

func TestChunkedReaderDetectsShortPage(t *testing.T) {
	src := &shortPageSource{fakeSource: *newFakeSource(4, 4, 4)}
	r, err := NewChunkedReader(src, 2, 1)
	if err != nil {
		t.Fatalf("reader construction failed: %v", err)
	}
	defer r.Close()
	for r.Next() {
	}
	if !errors.Is(r.Err(), ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", r.Err())
	}
}

type shortPageSource struct {
	fakeSource
}

func (s *shortPageSource) Page(i int) ([]uint16, error) {
	return make([]uint16, 3), nil
}
