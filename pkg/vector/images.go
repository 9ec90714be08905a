package vector

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"golang.org/x/image/webp"

	errs "znum/pkg/errors"
)

const (
	webpPrefix = "data:image/webp;base64,"
	jpegPrefix = "data:image/jpeg;base64,"
	uriEnd     = `"/>`
)

// NormalizeImages rewrites every embedded WebP data URI as a JPEG data URI
// flattened onto white, leaving the rest of the markup untouched.
func NormalizeImages(markup string, quality int) (string, error) {
	if !strings.Contains(markup, webpPrefix) {
		return markup, nil
	}

	var b strings.Builder
	b.Grow(len(markup))

	rest := markup
	for n := 1; ; n++ {
		start := strings.Index(rest, webpPrefix)
		if start < 0 {
			break
		}
		b.WriteString(rest[:start])
		rest = rest[start+len(webpPrefix):]

		end := strings.Index(rest, uriEnd)
		if end < 0 {
			return "", errs.New(errs.KindDecryptionFailure,
				fmt.Sprintf("embedded image %d is not terminated", n))
		}

		converted, err := webpToJPEG(rest[:end], quality)
		if err != nil {
			return "", errs.Wrap(errs.KindDecryptionFailure, err,
				fmt.Sprintf("failed to transcode embedded image %d", n))
		}

		b.WriteString(jpegPrefix)
		b.WriteString(converted)
		rest = rest[end:]
	}
	b.WriteString(rest)

	return b.String(), nil
}

func webpToJPEG(data string, quality int) (string, error) {
	raw, err := DecodeBase64(data)
	if err != nil {
		return "", err
	}

	img, err := webp.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode webp: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Flatten composites img over an opaque white canvas of the same bounds
func Flatten(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Over)
	return canvas
}

// DecodeBase64 decodes padded or unpadded standard base64, ignoring whitespace
func DecodeBase64(data string) ([]byte, error) {
	data = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, data)

	raw, err := base64.StdEncoding.DecodeString(data)
	if err == nil {
		return raw, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("decode base64: %w", err)
}
