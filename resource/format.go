package resource

import (
	"image"

	"github.com/gogpu/gputypes"
)

// DefaultFormat is the backing format used when a Config leaves Format unset.
const DefaultFormat = gputypes.TextureFormatRGBA8Unorm

// BytesPerPixel returns the storage size of one texel in the given format.
// Unknown formats are treated as 4 bytes per pixel.
func BytesPerPixel(format gputypes.TextureFormat) uint64 {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatR16Float:
		return 2
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatRG16Float:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// MemorySizeBytes returns the number of bytes a resource of the given size
// and format occupies. It is a pure function used for budget arithmetic.
func MemorySizeBytes(size image.Point, format gputypes.TextureFormat) uint64 {
	if size.X <= 0 || size.Y <= 0 {
		return 0
	}
	//nolint:gosec // G115: dimensions checked positive above
	return uint64(size.X) * uint64(size.Y) * BytesPerPixel(format)
}

// Descriptor returns the texture descriptor a GPU backend would use to
// create the resource's backing texture.
func Descriptor(label string, size image.Point, format gputypes.TextureFormat) gputypes.TextureDescriptor {
	return gputypes.TextureDescriptor{
		Label:         label,
		Size:          gputypes.NewExtent2D(clampUint32(size.X), clampUint32(size.Y)),
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}
}

func clampUint32(v int) uint32 {
	if v < 0 {
		return 0
	}
	if v > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}
