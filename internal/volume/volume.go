// Package volume implements memory-bounded streaming of paged volumetric
// image stacks and the dense volume types the rest of the pipeline consumes.
package volume

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch reports page/depth arithmetic that does not divide
// evenly, or an array whose measured dimensions disagree with its declared
// metadata.
var ErrShapeMismatch = errors.New("volume: shape mismatch")

// Volume is one timepoint's volumetric frame: a dense (X,Y,Z) block of
// uint16 samples. Data is stored Z-major with X fastest, so the page at
// depth z occupies Data[z*NX*NY : (z+1)*NX*NY] in (X,Y) order.
type Volume struct {
	NX, NY, NZ int
	Data       []uint16
}

// NewVolume allocates a zeroed volume of the given shape.
func NewVolume(nx, ny, nz int) *Volume {
	return &Volume{NX: nx, NY: ny, NZ: nz, Data: make([]uint16, nx*ny*nz)}
}

// At returns the sample at voxel (x,y,z).
func (v *Volume) At(x, y, z int) uint16 {
	return v.Data[(z*v.NY+y)*v.NX+x]
}

// Set assigns the sample at voxel (x,y,z).
func (v *Volume) Set(x, y, z int, val uint16) {
	v.Data[(z*v.NY+y)*v.NX+x] = val
}

// Dim returns the (X,Y,Z) shape.
func (v *Volume) Dim() [3]int { return [3]int{v.NX, v.NY, v.NZ} }

// MultiChannelImage is a dense 4-axis (X,Y,Z,channel) structural image.
// Channel count must agree with the owning imaging volume's catalog; the
// check lives with the container assembly, which knows both sides.
type MultiChannelImage struct {
	NX, NY, NZ, NC int
	Data           []uint16
	// DisplayChannels designates the channel subset used for RGBW-style
	// rendering, as indices into the owning catalog's order.
	DisplayChannels []int
}

// NewMultiChannelImage wraps data as a (nx,ny,nz,nc) image. Data is
// channel-major: channel c occupies one full Z-major volume block.
func NewMultiChannelImage(nx, ny, nz, nc int, data []uint16, display []int) (*MultiChannelImage, error) {
	if want := nx * ny * nz * nc; len(data) != want {
		return nil, fmt.Errorf("%w: image has %d samples, want %d for (%d,%d,%d,%d)",
			ErrShapeMismatch, len(data), want, nx, ny, nz, nc)
	}
	return &MultiChannelImage{NX: nx, NY: ny, NZ: nz, NC: nc, Data: data, DisplayChannels: display}, nil
}

// At returns the sample at voxel (x,y,z) of channel c.
func (m *MultiChannelImage) At(x, y, z, c int) uint16 {
	return m.Data[((c*m.NZ+z)*m.NY+y)*m.NX+x]
}

// Channels returns the channel-axis length.
func (m *MultiChannelImage) Channels() int { return m.NC }
