package volume

import (
	"fmt"
	"sync"
)

// DefaultLookahead bounds how many timepoints the page-reading producer may
// run ahead of the consumer. Ten full volumes keeps peak memory flat for
// arbitrarily long recordings.
const DefaultLookahead = 10

// PageSource yields the pages of a paged image stack in storage order.
// Pages are native row-major: Height rows of Width samples.
type PageSource interface {
	Pages() int
	Width() int
	Height() int
	// Page returns the samples of page i at the source's native integer
	// bit depth. The returned slice must not be retained across calls.
	Page(i int) ([]uint16, error)
	Close() error
}

type chunkResult struct {
	vol *Volume
	err error
}

// ChunkedReader streams a paged source organized timepoint-major/Z-minor as
// fixed-shape per-timepoint volumes: Z consecutive pages form one volume,
// each page transposed to the (X,Y) axis order of the volume layout.
//
// The stream is sequential-only and not restartable. A background producer
// pre-reads up to the look-ahead bound; the source is released exactly once
// on normal completion, early Close, or error.
type ChunkedReader struct {
	src        PageSource
	nx, ny, nz int
	timepoints int

	chunks chan chunkResult
	done   chan struct{}

	cur *Volume
	err error

	closeOnce sync.Once
	srcOnce   sync.Once
	srcErr    error
	prodDone  chan struct{}
}

// NewChunkedReader validates the page arithmetic and starts the producer.
// It fails with ErrShapeMismatch when the page count is not an even
// multiple of zDepth; the source is closed on any constructor error.
// A source with no pages divides evenly and yields an empty stream.
func NewChunkedReader(src PageSource, zDepth, lookahead int) (*ChunkedReader, error) {
	if zDepth <= 0 {
		src.Close()
		return nil, fmt.Errorf("%w: z depth %d must be positive", ErrShapeMismatch, zDepth)
	}
	pages := src.Pages()
	if pages%zDepth != 0 {
		src.Close()
		return nil, fmt.Errorf("%w: %d pages is not an even multiple of z depth %d", ErrShapeMismatch, pages, zDepth)
	}
	if lookahead < 1 {
		lookahead = DefaultLookahead
	}

	r := &ChunkedReader{
		src:        src,
		nx:         src.Width(),
		ny:         src.Height(),
		nz:         zDepth,
		timepoints: pages / zDepth,
		chunks:     make(chan chunkResult, lookahead),
		done:       make(chan struct{}),
		prodDone:   make(chan struct{}),
	}
	go r.produce()
	return r, nil
}

// Timepoints returns the total number of volumes the stream will yield.
func (r *ChunkedReader) Timepoints() int { return r.timepoints }

// Dim returns the constant (X,Y,Z) chunk shape.
func (r *ChunkedReader) Dim() [3]int { return [3]int{r.nx, r.ny, r.nz} }

func (r *ChunkedReader) produce() {
	defer close(r.prodDone)
	defer r.closeSrc()
	defer close(r.chunks)

	pageLen := r.nx * r.ny
	for t := 0; t < r.timepoints; t++ {
		vol := NewVolume(r.nx, r.ny, r.nz)
		for z := 0; z < r.nz; z++ {
			page, err := r.src.Page(t*r.nz + z)
			if err != nil {
				r.send(chunkResult{err: fmt.Errorf("timepoint %d page %d: %w", t, z, err)})
				return
			}
			if len(page) != pageLen {
				r.send(chunkResult{err: fmt.Errorf("%w: page %d has %d samples, want %d",
					ErrShapeMismatch, t*r.nz+z, len(page), pageLen)})
				return
			}
			// Native pages are row-major (Y,X); the volume addresses
			// (X,Y), which shares the x-fastest layout, so the page
			// copies straight into its Z slab.
			copy(vol.Data[z*pageLen:(z+1)*pageLen], page)
		}
		if !r.send(chunkResult{vol: vol}) {
			return
		}
	}
}

func (r *ChunkedReader) send(c chunkResult) bool {
	select {
	case r.chunks <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *ChunkedReader) closeSrc() {
	r.srcOnce.Do(func() {
		r.srcErr = r.src.Close()
	})
}

// Next advances to the next chunk. It returns false when the stream is
// exhausted or failed; check Err afterwards.
func (r *ChunkedReader) Next() bool {
	if r.err != nil {
		return false
	}
	c, ok := <-r.chunks
	if !ok {
		r.cur = nil
		return false
	}
	if c.err != nil {
		r.err = c.err
		r.cur = nil
		return false
	}
	r.cur = c.vol
	return true
}

// Chunk returns the current volume. Only valid after Next reported true.
func (r *ChunkedReader) Chunk() *Volume { return r.cur }

// Err returns the first error the stream encountered, if any.
func (r *ChunkedReader) Err() error { return r.err }

// Close abandons the stream and releases the source. Safe to call at any
// point and more than once; returns the source's close error, if any.
func (r *ChunkedReader) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		<-r.prodDone
	})
	return r.srcErr
}
