package imageopt

import (
	"bytes"
	"context"
	"encoding/xml"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// jpegQuality is used when re-encoding jpeg renditions.
const jpegQuality = 85

// Local optimizes with in-process codecs: std png/jpeg/gif, x/image webp
// decoding, and CatmullRom scaling. No webp/avif encoders exist in-process,
// so ModernFormats always reports unsupported.
type Local struct {
	logr log.Logger
}

func NewLocal(logr log.Logger) *Local {
	if logr == nil {
		logr = log.Nop()
	}
	return &Local{logr: logr}
}

func (l *Local) Dimensions(ctx context.Context, path string) (asset.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return asset.Dimensions{}, xerrors.Wrapf(err, "open image %s", path)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return svgDimensions(f)
	case ".webp":
		cfg, err := webp.DecodeConfig(f)
		if err != nil {
			return asset.Dimensions{}, xerrors.Wrapf(err, "decode webp config %s", path)
		}
		return asset.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
	case ".avif":
		return asset.Dimensions{}, xerrors.Newf("no avif decoder available for %s", path)
	default:
		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return asset.Dimensions{}, xerrors.Wrapf(err, "decode image config %s", path)
		}
		return asset.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
	}
}

// ResponsiveVariants re-encodes png/jpeg sources as a full-size @2x and a
// half-size @1x rendition. Formats without an in-process encoder yield no
// variants and no error.
func (l *Local) ResponsiveVariants(ctx context.Context, path string, data []byte) ([]Rendition, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png", ".jpg", ".jpeg":
	default:
		return nil, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrapf(err, "decode image %s", path)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	full, err := encode(ext, src)
	if err != nil {
		return nil, xerrors.Wrapf(err, "encode @2x rendition of %s", path)
	}
	out := []Rendition{{
		Variant:    "@2x",
		Data:       full,
		Dimensions: asset.Dimensions{Width: w, Height: h},
	}}

	if w >= 2 && h >= 2 {
		halfW, halfH := w/2, h/2
		dst := image.NewRGBA(image.Rect(0, 0, halfW, halfH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

		half, err := encode(ext, dst)
		if err != nil {
			return nil, xerrors.Wrapf(err, "encode @1x rendition of %s", path)
		}
		out = append(out, Rendition{
			Variant:    "@1x",
			Data:       half,
			Dimensions: asset.Dimensions{Width: halfW, Height: halfH},
		})
	}
	l.logr.Debug(ctx, "responsive variants generated", "path", path, "count", len(out))
	return out, nil
}

// ModernFormats has no in-process webp or avif encoder to call.
func (l *Local) ModernFormats(ctx context.Context, path string, data []byte) ([]Rendition, error) {
	return nil, xerrors.Newf("modern format conversion unsupported: no webp/avif encoder for %s", path)
}

func encode(ext string, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	switch ext {
	case ".png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case ".jpg", ".jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	case ".gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	default:
		return nil, xerrors.Newf("no encoder for %s", ext)
	}
	return buf.Bytes(), nil
}

// svgElement is the subset of the root element needed for sizing.
type svgElement struct {
	Width   string `xml:"width,attr"`
	Height  string `xml:"height,attr"`
	ViewBox string `xml:"viewBox,attr"`
}

// svgDimensions reads width/height attributes off the root svg element,
// falling back to the viewBox.
func svgDimensions(r io.Reader) (asset.Dimensions, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return asset.Dimensions{}, xerrors.Wrap(err, "parse svg")
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return asset.Dimensions{}, xerrors.Newf("not an svg document (root element %s)", start.Name.Local)
		}

		var el svgElement
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "width":
				el.Width = a.Value
			case "height":
				el.Height = a.Value
			case "viewBox":
				el.ViewBox = a.Value
			}
		}

		if w, errW := svgLength(el.Width); errW == nil {
			if h, errH := svgLength(el.Height); errH == nil {
				return asset.Dimensions{Width: w, Height: h}, nil
			}
		}
		if el.ViewBox != "" {
			parts := strings.Fields(el.ViewBox)
			if len(parts) == 4 {
				w, errW := strconv.ParseFloat(parts[2], 64)
				h, errH := strconv.ParseFloat(parts[3], 64)
				if errW == nil && errH == nil {
					return asset.Dimensions{Width: int(w), Height: int(h)}, nil
				}
			}
		}
		return asset.Dimensions{}, xerrors.New("svg has no usable width/height or viewBox")
	}
}

// svgLength parses a length attribute, tolerating a px suffix.
func svgLength(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	if s == "" {
		return 0, xerrors.New("empty length")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
