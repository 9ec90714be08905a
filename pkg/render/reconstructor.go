// Package render turns a parsed page response into a finished page bitmap.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"

	"znum/pkg/config"
	errs "znum/pkg/errors"
	"znum/pkg/models"
	"znum/pkg/protocol"
	"znum/pkg/vector"
)

// Reconstructor builds PNG page bitmaps from slices or vector markup
type Reconstructor struct {
	// Density is the vector rasterization resolution in DPI
	Density float64
	// JPEGQuality is used when transcoding embedded WebP images
	JPEGQuality int
}

// New creates a Reconstructor from the render configuration
func New(cfg config.RenderConfig) *Reconstructor {
	return &Reconstructor{
		Density:     cfg.Density,
		JPEGQuality: cfg.JPEGQuality,
	}
}

// Reconstruct produces the PNG bytes of one page. Nothing is returned
// unless the whole page was built.
func (r *Reconstructor) Reconstruct(resp *protocol.PageResponse, key models.KeyMaterial) ([]byte, error) {
	if resp == nil {
		return nil, errs.New(errs.KindProtocolMismatch, "no response")
	}

	var (
		img image.Image
		err error
	)
	switch p := resp.Payload.(type) {
	case protocol.RasterSlices:
		img, err = Stitch(p)
	case protocol.VectorMarkup:
		img, err = r.renderVector(string(p), key)
	default:
		return nil, &errs.Error{
			Kind:    errs.KindProtocolMismatch,
			Status:  resp.StatusText,
			Message: "response carries neither slices nor vector markup",
		}
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}

// Stitch decodes base64 slices and stacks them top to bottom in order.
// The page is as wide as the widest slice; narrower slices are left aligned on white.
func Stitch(slices protocol.RasterSlices) (image.Image, error) {
	if len(slices) == 0 {
		return nil, errs.New(errs.KindProtocolMismatch, "no slices to join")
	}

	parts := make([]image.Image, 0, len(slices))
	width, height := 0, 0
	for i, s := range slices {
		raw, err := vector.DecodeBase64(s)
		if err != nil {
			return nil, errs.Wrap(errs.KindProtocolMismatch, err, fmt.Sprintf("slice %d", i+1))
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, errs.Wrap(errs.KindProtocolMismatch, err, fmt.Sprintf("slice %d is not an image", i+1))
		}

		b := img.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
		parts = append(parts, img)
	}

	page := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(page, page.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := 0
	for _, img := range parts {
		b := img.Bounds()
		dst := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Draw(page, dst, img, b.Min, draw.Over)
		y += b.Dy()
	}

	return page, nil
}
