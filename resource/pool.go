package resource

import (
	"container/list"
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// Pool errors.
var (
	// ErrHardLimitExceeded is returned when an allocation would cross the
	// pool's internal hard limit. It is unrelated to the scheduling budget.
	ErrHardLimitExceeded = errors.New("resource: hard limit exceeded")

	// ErrInvalidSize is returned when acquiring a resource with a
	// non-positive dimension.
	ErrInvalidSize = errors.New("resource: invalid size")

	// ErrForeignResource is returned when releasing a resource that this
	// pool did not hand out or that was already released.
	ErrForeignResource = errors.New("resource: resource not acquired from this pool")
)

// Default pool limits.
const (
	// DefaultHardLimitBytes caps in-use plus cached bytes (1 GiB).
	DefaultHardLimitBytes = 1 << 30

	// DefaultMaxCachedBytes is how many released bytes the pool keeps for
	// reuse until the first SetResourceUsageLimits call (64 MiB).
	DefaultMaxCachedBytes = 64 << 20

	// DefaultMaxCachedCount caps the number of cached resources.
	DefaultMaxCachedCount = 1024
)

// Config holds configuration for creating a Pool.
type Config struct {
	// Format is the texel format of every resource the pool allocates.
	// Defaults to DefaultFormat if undefined.
	Format gputypes.TextureFormat

	// HardLimitBytes bounds in-use plus cached bytes. Acquire fails with
	// ErrHardLimitExceeded past it. Defaults to DefaultHardLimitBytes if 0.
	HardLimitBytes uint64

	// MaxCachedBytes bounds the bytes kept on the free list.
	// Defaults to DefaultMaxCachedBytes if 0.
	MaxCachedBytes uint64

	// MaxCachedCount bounds the number of resources kept on the free list.
	// Defaults to DefaultMaxCachedCount if <= 0.
	MaxCachedCount int
}

// PoolStats contains pool accounting.
type PoolStats struct {
	// InUseBytes is the memory held by acquired resources.
	InUseBytes uint64

	// InUseCount is the number of acquired resources.
	InUseCount int

	// CachedBytes is the memory held by released resources kept for reuse.
	CachedBytes uint64

	// CachedCount is the number of resources on the free list.
	CachedCount int

	// Acquires counts successful Acquire calls.
	Acquires uint64

	// Reuses counts Acquire calls served from the free list.
	Reuses uint64
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d in use (%d KB), %d cached (%d KB), %d acquires, %d reuses]",
		s.InUseCount, s.InUseBytes/1024,
		s.CachedCount, s.CachedBytes/1024,
		s.Acquires, s.Reuses)
}

// Pool acquires and releases fixed-size backing buffers. Released buffers
// are kept on a per-size free list and handed out again by Acquire, which
// amortizes allocator churn. A buffer is counted either as in use or as
// cached, never both.
//
// Thread safety: Pool is NOT safe for concurrent use.
type Pool struct {
	format    gputypes.TextureFormat
	hardLimit uint64

	maxCachedBytes uint64
	maxCachedCount int

	nextID ResourceID

	inUse      map[ResourceID]*Resource
	inUseBytes uint64

	// buckets holds cached resources per size, front = most recently released.
	buckets map[image.Point]*list.List
	// lru orders every cached resource, back = least recently released.
	lru         *list.List
	cachedBytes uint64

	acquires uint64
	reuses   uint64
}

// NewPool creates a resource pool.
func NewPool(config Config) *Pool {
	format := config.Format
	if format == gputypes.TextureFormatUndefined {
		format = DefaultFormat
	}

	hardLimit := config.HardLimitBytes
	if hardLimit == 0 {
		hardLimit = DefaultHardLimitBytes
	}

	maxCached := config.MaxCachedBytes
	if maxCached == 0 {
		maxCached = DefaultMaxCachedBytes
	}

	maxCount := config.MaxCachedCount
	if maxCount <= 0 {
		maxCount = DefaultMaxCachedCount
	}

	return &Pool{
		format:         format,
		hardLimit:      hardLimit,
		maxCachedBytes: maxCached,
		maxCachedCount: maxCount,
		inUse:          make(map[ResourceID]*Resource),
		buckets:        make(map[image.Point]*list.List),
		lru:            list.New(),
	}
}

// Format returns the texel format of the pool's resources.
func (p *Pool) Format() gputypes.TextureFormat { return p.format }

// MemorySizeBytes returns the bytes a resource of the given size would use
// in this pool's format.
func (p *Pool) MemorySizeBytes(size image.Point) uint64 {
	return MemorySizeBytes(size, p.format)
}

// Acquire returns a resource of the given size, reusing a cached buffer
// when one of the same size is available. The returned pixels are zeroed.
//
// Acquire fails only with ErrInvalidSize or ErrHardLimitExceeded.
func (p *Pool) Acquire(size image.Point) (*Resource, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, size.X, size.Y)
	}

	if r := p.takeCached(size); r != nil {
		clear(r.Pixels)
		p.markInUse(r)
		p.reuses++
		return r, nil
	}

	bytes := MemorySizeBytes(size, p.format)

	// Make room on the free list before giving up on the hard limit.
	for p.inUseBytes+p.cachedBytes+bytes > p.hardLimit && p.lru.Len() > 0 {
		p.dropOldestCached()
	}
	if p.inUseBytes+bytes > p.hardLimit {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use",
			ErrHardLimitExceeded, bytes, p.inUseBytes, p.hardLimit)
	}

	p.nextID++
	r := &Resource{
		id:     p.nextID,
		size:   size,
		format: p.format,
		Pixels: make([]byte, bytes),
		pool:   p,
	}
	p.markInUse(r)
	return r, nil
}

// Release returns a resource to the pool. The buffer is kept for reuse if
// the cache limits allow it. Releasing nil is a no-op.
func (p *Pool) Release(r *Resource) error {
	if r == nil {
		return nil
	}
	if r.pool != p || !r.inUse {
		return fmt.Errorf("%w: %s", ErrForeignResource, r)
	}

	delete(p.inUse, r.id)
	p.inUseBytes -= r.Bytes()
	r.inUse = false

	bucket, ok := p.buckets[r.size]
	if !ok {
		bucket = list.New()
		p.buckets[r.size] = bucket
	}
	r.bucketElem = bucket.PushFront(r)
	r.lruElem = p.lru.PushFront(r)
	p.cachedBytes += r.Bytes()

	p.ReduceResourceUsage()
	return nil
}

// SetResourceUsageLimits updates how much released memory the pool may
// keep for reuse. Call ReduceResourceUsage to apply it immediately.
func (p *Pool) SetResourceUsageLimits(maxCachedBytes uint64, maxCachedCount int) {
	p.maxCachedBytes = maxCachedBytes
	if maxCachedCount < 0 {
		maxCachedCount = 0
	}
	p.maxCachedCount = maxCachedCount
}

// ReduceResourceUsage drops the least recently released cached buffers
// until the cache is within its limits.
func (p *Pool) ReduceResourceUsage() {
	for p.lru.Len() > 0 &&
		(p.cachedBytes > p.maxCachedBytes || p.lru.Len() > p.maxCachedCount) {
		p.dropOldestCached()
	}
}

// Stats returns current pool accounting.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		InUseBytes:  p.inUseBytes,
		InUseCount:  len(p.inUse),
		CachedBytes: p.cachedBytes,
		CachedCount: p.lru.Len(),
		Acquires:    p.acquires,
		Reuses:      p.reuses,
	}
}

// TotalBytesUsed returns the bytes held by acquired resources.
func (p *Pool) TotalBytesUsed() uint64 { return p.inUseBytes }

// TotalResources returns the number of acquired resources.
func (p *Pool) TotalResources() int { return len(p.inUse) }

// Close drops every cached buffer. Acquired resources stay valid for their
// holders but are no longer tracked.
func (p *Pool) Close() {
	for p.lru.Len() > 0 {
		p.dropOldestCached()
	}
	for id, r := range p.inUse {
		r.pool = nil
		r.inUse = false
		delete(p.inUse, id)
	}
	p.inUseBytes = 0
}

func (p *Pool) markInUse(r *Resource) {
	r.inUse = true
	p.inUse[r.id] = r
	p.inUseBytes += r.Bytes()
	p.acquires++
}

// takeCached removes and returns a cached resource of the given size.
func (p *Pool) takeCached(size image.Point) *Resource {
	bucket, ok := p.buckets[size]
	if !ok || bucket.Len() == 0 {
		return nil
	}
	r, _ := bucket.Front().Value.(*Resource)
	p.unlinkCached(r)
	return r
}

// dropOldestCached frees the least recently released cached buffer.
func (p *Pool) dropOldestCached() {
	elem := p.lru.Back()
	if elem == nil {
		return
	}
	r, _ := elem.Value.(*Resource)
	p.unlinkCached(r)
	r.Pixels = nil
	r.pool = nil
}

func (p *Pool) unlinkCached(r *Resource) {
	p.lru.Remove(r.lruElem)
	if bucket, ok := p.buckets[r.size]; ok {
		bucket.Remove(r.bucketElem)
		if bucket.Len() == 0 {
			delete(p.buckets, r.size)
		}
	}
	r.lruElem = nil
	r.bucketElem = nil
	p.cachedBytes -= r.Bytes()
}
