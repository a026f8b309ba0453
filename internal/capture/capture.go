// Package capture turns a surface's native viewport bitmap into an encoded
// data URL.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// Format is the output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// DefaultQuality applies to JPEG output when the request names none.
const DefaultQuality = 90

// MIMEType returns the media type of f.
func (f Format) MIMEType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// ParseFormat accepts png (the default), jpeg and jpg.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("%w: unsupported image format %q", protocol.ErrMalformedRequest, s)
}

// Options select the output encoding.
type Options struct {
	Format  Format
	Quality int
}

// NewOptions validates wire arguments. A nil quality means DefaultQuality.
func NewOptions(format string, quality *int) (Options, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return Options{}, err
	}
	q := DefaultQuality
	if quality != nil {
		q = *quality
	}
	if q < 0 || q > 100 {
		return Options{}, fmt.Errorf("%w: quality must be between 0 and 100, got %d", protocol.ErrMalformedRequest, q)
	}
	return Options{Format: f, Quality: q}, nil
}

// Capturer is implemented by surfaces whose platform can grab the visible
// viewport.
type Capturer interface {
	CaptureViewport(ctx context.Context) (image.Image, error)
}

// Viewport captures surf and returns it as a data URL. Surfaces without
// native capture fail with protocol.ErrUnsupported so callers can fall back
// to an in-page renderer.
func Viewport(ctx context.Context, surf window.Surface, opts Options) (string, error) {
	c, ok := surf.(Capturer)
	if !ok || !surf.Capabilities().NativeCapture {
		return "", fmt.Errorf("native capture of window '%s': %w", surf.Label(), protocol.ErrUnsupported)
	}
	img, err := c.CaptureViewport(ctx)
	if err != nil {
		return "", fmt.Errorf("capture window '%s': %w", surf.Label(), err)
	}
	return Encode(img, opts)
}

// Encode renders img in the requested format as a base64 data URL.
func Encode(img image.Image, opts Options) (string, error) {
	var buf bytes.Buffer
	switch opts.Format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(opts.Quality)}); err != nil {
			return "", fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("encode png: %w", err)
		}
	}
	return DataURL(opts.Format.MIMEType(), buf.Bytes()), nil
}

// DataURL wraps data in a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// jpeg.Encode rejects quality below 1.
func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
