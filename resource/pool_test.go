package resource

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gputypes"
)

// =============================================================================
// Format Arithmetic
// =============================================================================

func TestMemorySizeBytes(t *testing.T) {
	tests := []struct {
		name   string
		size   image.Point
		format gputypes.TextureFormat
		want   uint64
	}{
		{"RGBA8 256x256", image.Pt(256, 256), gputypes.TextureFormatRGBA8Unorm, 256 * 256 * 4},
		{"BGRA8 64x32", image.Pt(64, 32), gputypes.TextureFormatBGRA8Unorm, 64 * 32 * 4},
		{"R8 10x10", image.Pt(10, 10), gputypes.TextureFormatR8Unorm, 100},
		{"RGBA16F 4x4", image.Pt(4, 4), gputypes.TextureFormatRGBA16Float, 16 * 8},
		{"RGBA32F 2x2", image.Pt(2, 2), gputypes.TextureFormatRGBA32Float, 4 * 16},
		{"zero width", image.Pt(0, 10), gputypes.TextureFormatRGBA8Unorm, 0},
		{"negative", image.Pt(-1, 10), gputypes.TextureFormatRGBA8Unorm, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MemorySizeBytes(tt.size, tt.format); got != tt.want {
				t.Errorf("MemorySizeBytes(%v, %v) = %d, want %d", tt.size, tt.format, got, tt.want)
			}
		})
	}
}

func TestDescriptor(t *testing.T) {
	d := Descriptor("tile", image.Pt(128, 64), gputypes.TextureFormatRGBA8Unorm)
	if d.Size.Width != 128 || d.Size.Height != 64 || d.Size.DepthOrArrayLayers != 1 {
		t.Errorf("Size = %+v, want 128x64x1", d.Size)
	}
	if d.Dimension != gputypes.TextureDimension2D {
		t.Errorf("Dimension = %v, want 2D", d.Dimension)
	}
	if !d.Usage.Contains(gputypes.TextureUsageTextureBinding) {
		t.Error("Usage should contain TextureBinding")
	}
}

// =============================================================================
// Acquire / Release
// =============================================================================

func TestPool_AcquireRelease(t *testing.T) {
	p := NewPool(Config{})
	size := image.Pt(16, 16)
	want := MemorySizeBytes(size, DefaultFormat)

	r, err := p.Acquire(size)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if r.ID() == InvalidID {
		t.Error("Acquire() returned resource with InvalidID")
	}
	if got := p.TotalBytesUsed(); got != want {
		t.Errorf("TotalBytesUsed() = %d, want %d", got, want)
	}
	if got := p.TotalResources(); got != 1 {
		t.Errorf("TotalResources() = %d, want 1", got)
	}
	if uint64(len(r.Pixels)) != want {
		t.Errorf("len(Pixels) = %d, want %d", len(r.Pixels), want)
	}

	if err := p.Release(r); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := p.TotalBytesUsed(); got != 0 {
		t.Errorf("TotalBytesUsed() after release = %d, want 0", got)
	}
	stats := p.Stats()
	if stats.CachedBytes != want || stats.CachedCount != 1 {
		t.Errorf("cached = %d bytes / %d, want %d / 1", stats.CachedBytes, stats.CachedCount, want)
	}
}

func TestPool_ReuseDoesNotDoubleCount(t *testing.T) {
	p := NewPool(Config{})
	size := image.Pt(8, 8)
	bytes := MemorySizeBytes(size, DefaultFormat)

	r1, _ := p.Acquire(size)
	r1.Pixels[0] = 0xFF
	id := r1.ID()
	_ = p.Release(r1)

	r2, err := p.Acquire(size)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if r2.ID() != id {
		t.Errorf("reused ID = %d, want %d", r2.ID(), id)
	}
	if r2.Pixels[0] != 0 {
		t.Error("reused resource pixels were not cleared")
	}

	stats := p.Stats()
	if stats.InUseBytes != bytes {
		t.Errorf("InUseBytes = %d, want %d", stats.InUseBytes, bytes)
	}
	if stats.CachedBytes != 0 {
		t.Errorf("CachedBytes = %d, want 0", stats.CachedBytes)
	}
	if stats.Reuses != 1 {
		t.Errorf("Reuses = %d, want 1", stats.Reuses)
	}
}

func TestPool_BucketsBySize(t *testing.T) {
	p := NewPool(Config{})
	small, _ := p.Acquire(image.Pt(4, 4))
	_ = p.Release(small)

	big, _ := p.Acquire(image.Pt(8, 8))
	if big.ID() == small.ID() {
		t.Error("resource of a different size must not be reused")
	}
	if p.Stats().CachedCount != 1 {
		t.Errorf("CachedCount = %d, want 1", p.Stats().CachedCount)
	}
}

func TestPool_AcquireInvalidSize(t *testing.T) {
	p := NewPool(Config{})
	for _, size := range []image.Point{{0, 1}, {1, 0}, {-3, 4}} {
		if _, err := p.Acquire(size); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Acquire(%v) error = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestPool_HardLimit(t *testing.T) {
	size := image.Pt(4, 4)
	bytes := MemorySizeBytes(size, DefaultFormat)
	p := NewPool(Config{HardLimitBytes: 2 * bytes})

	a, err := p.Acquire(size)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Acquire(size); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Acquire(size); !errors.Is(err, ErrHardLimitExceeded) {
		t.Fatalf("third Acquire() error = %v, want ErrHardLimitExceeded", err)
	}

	_ = p.Release(a)
	if _, err := p.Acquire(image.Pt(2, 8)); err != nil {
		t.Errorf("Acquire() after release should evict cache and succeed, got %v", err)
	}
	if got := p.Stats().CachedCount; got != 0 {
		t.Errorf("CachedCount = %d, want 0 after eviction for hard limit", got)
	}
}

func TestPool_ReleaseErrors(t *testing.T) {
	p := NewPool(Config{})
	other := NewPool(Config{})

	if err := p.Release(nil); err != nil {
		t.Errorf("Release(nil) = %v, want nil", err)
	}

	r, _ := other.Acquire(image.Pt(2, 2))
	if err := p.Release(r); !errors.Is(err, ErrForeignResource) {
		t.Errorf("Release(foreign) = %v, want ErrForeignResource", err)
	}

	mine, _ := p.Acquire(image.Pt(2, 2))
	_ = p.Release(mine)
	if err := p.Release(mine); !errors.Is(err, ErrForeignResource) {
		t.Errorf("double Release() = %v, want ErrForeignResource", err)
	}
}

// =============================================================================
// Cache Limits
// =============================================================================

func TestPool_ReduceResourceUsage(t *testing.T) {
	size := image.Pt(4, 4)
	bytes := MemorySizeBytes(size, DefaultFormat)
	p := NewPool(Config{})

	var rs []*Resource
	for range 4 {
		r, _ := p.Acquire(size)
		rs = append(rs, r)
	}
	for _, r := range rs {
		_ = p.Release(r)
	}
	if got := p.Stats().CachedCount; got != 4 {
		t.Fatalf("CachedCount = %d, want 4", got)
	}

	p.SetResourceUsageLimits(2*bytes, 10)
	p.ReduceResourceUsage()
	stats := p.Stats()
	if stats.CachedBytes != 2*bytes {
		t.Errorf("CachedBytes = %d, want %d", stats.CachedBytes, 2*bytes)
	}

	p.SetResourceUsageLimits(100*bytes, 1)
	p.ReduceResourceUsage()
	if got := p.Stats().CachedCount; got != 1 {
		t.Errorf("CachedCount = %d, want 1", got)
	}

	// The survivor is the most recently released buffer.
	r, _ := p.Acquire(size)
	if r.ID() != rs[3].ID() {
		t.Errorf("survivor ID = %d, want %d", r.ID(), rs[3].ID())
	}
}

func TestPool_Close(t *testing.T) {
	p := NewPool(Config{})
	r, _ := p.Acquire(image.Pt(2, 2))
	c, _ := p.Acquire(image.Pt(2, 2))
	_ = p.Release(c)

	p.Close()
	stats := p.Stats()
	if stats.InUseCount != 0 || stats.CachedCount != 0 || stats.InUseBytes != 0 || stats.CachedBytes != 0 {
		t.Errorf("Stats() after Close = %+v, want zero usage", stats)
	}
	if err := p.Release(r); !errors.Is(err, ErrForeignResource) {
		t.Errorf("Release() after Close = %v, want ErrForeignResource", err)
	}
}

func TestResource_RGBA(t *testing.T) {
	p := NewPool(Config{})
	r, _ := p.Acquire(image.Pt(3, 2))
	img := r.RGBA()
	if img == nil {
		t.Fatal("RGBA() = nil for RGBA8 format")
	}
	if img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("Bounds() = %v, want (0,0)-(3,2)", img.Bounds())
	}
	img.Pix[img.PixOffset(2, 1)] = 7
	if r.Pixels[(1*3+2)*4] != 7 {
		t.Error("RGBA view does not alias resource pixels")
	}

	r8 := NewPool(Config{Format: gputypes.TextureFormatR8Unorm})
	m, _ := r8.Acquire(image.Pt(2, 2))
	if m.RGBA() != nil {
		t.Error("RGBA() should be nil for R8 format")
	}
}

func TestPoolStats_String(t *testing.T) {
	s := PoolStats{InUseBytes: 2048, InUseCount: 2, CachedBytes: 1024, CachedCount: 1, Acquires: 3, Reuses: 1}
	want := "Pool[2 in use (2 KB), 1 cached (1 KB), 3 acquires, 1 reuses]"
	if got := s.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
