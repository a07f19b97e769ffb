// Package resource provides the fixed-size backing buffers that hold
// rasterized tile content and the pool that hands them out.
//
// A Pool is a pure allocator: it acquires and releases buffers and keeps
// byte accounting, but it never decides what deserves memory. Budget
// enforcement is the caller's job; the pool only refuses an allocation
// when its internal hard limit would be crossed.
//
// Thread safety: Pool is NOT safe for concurrent use. It is owned by the
// scheduling goroutine. Raster workers may write into the Pixels of a
// Resource they were handed, but must not call Acquire or Release.
package resource

import (
	"container/list"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// ResourceID identifies a backing buffer within its pool. A buffer served
// again from the free list keeps its ID.
type ResourceID uint64

// InvalidID is the zero ResourceID, never assigned to a live resource.
const InvalidID ResourceID = 0

// Resource is a GPU-visible memory allocation sized to hold one tile's
// rasterized content.
type Resource struct {
	id     ResourceID
	size   image.Point
	format gputypes.TextureFormat

	// Pixels is the backing store. Exactly one raster worker writes it
	// between dispatch and completion; the scheduling goroutine owns it
	// otherwise.
	Pixels []byte

	pool  *Pool
	inUse bool

	// Free-list bookkeeping, valid only while cached.
	lruElem    *list.Element
	bucketElem *list.Element
}

// ID returns the pool-unique identifier of the resource.
func (r *Resource) ID() ResourceID { return r.id }

// Size returns the resource dimensions in pixels.
func (r *Resource) Size() image.Point { return r.size }

// Format returns the texel format of the resource.
func (r *Resource) Format() gputypes.TextureFormat { return r.format }

// Bytes returns the memory consumed by the resource.
func (r *Resource) Bytes() uint64 { return MemorySizeBytes(r.size, r.format) }

// InUse reports whether the resource is currently acquired.
func (r *Resource) InUse() bool { return r.inUse }

// RGBA returns an image view over the resource pixels for writers.
// It returns nil when the format is not 4 bytes per pixel.
func (r *Resource) RGBA() *image.RGBA {
	if BytesPerPixel(r.format) != 4 {
		return nil
	}
	return &image.RGBA{
		Pix:    r.Pixels,
		Stride: r.size.X * 4,
		Rect:   image.Rect(0, 0, r.size.X, r.size.Y),
	}
}

// Descriptor returns the texture descriptor for this resource.
func (r *Resource) Descriptor() gputypes.TextureDescriptor {
	return Descriptor(fmt.Sprintf("tile-resource-%d", r.id), r.size, r.format)
}

// String returns a short description for logs.
func (r *Resource) String() string {
	return fmt.Sprintf("Resource[%d %dx%d %s]", r.id, r.size.X, r.size.Y, r.format)
}
