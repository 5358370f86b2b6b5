// Package imageopt is the image-optimizer collaborator for the asset
// pipeline: dimension probing and best-effort derivative generation. Every
// operation may fail independently without failing asset processing.
package imageopt

import (
	"context"

	"github.com/tapestrydocs/asset-engine/internal/asset"
)

// Rendition is a generated image variant before hashing. The processor
// turns Renditions into asset.Derivatives (content hash, hashed filename,
// public path).
type Rendition struct {
	// Variant names the rendition: "@1x", "@2x", or a format name.
	Variant string
	// Ext is the target extension including the dot; empty keeps the
	// source extension.
	Ext        string
	Data       []byte
	Dimensions asset.Dimensions
}

// Optimizer is the collaborator contract the processor calls for
// image-type assets.
type Optimizer interface {
	// Dimensions probes the pixel (or declared, for SVG) size of the
	// image at path.
	Dimensions(ctx context.Context, path string) (asset.Dimensions, error)
	// ResponsiveVariants generates density renditions from the source
	// bytes. An empty result with nil error means the format has no
	// variants to offer.
	ResponsiveVariants(ctx context.Context, path string, data []byte) ([]Rendition, error)
	// ModernFormats converts the source to modern encodings (webp/avif)
	// where an encoder is available.
	ModernFormats(ctx context.Context, path string, data []byte) ([]Rendition, error)
}
