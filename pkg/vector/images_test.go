package vector

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "znum/pkg/errors"
)

// 1x1 lossless WebP
const webpPixel = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func TestNormalizeImagesRewritesWebP(t *testing.T) {
	markup := `<svg><image x="0" y="0" width="1" height="1" xlink:href="data:image/webp;base64,` +
		webpPixel + `"/><text>12</text></svg>`

	got, err := NormalizeImages(markup, 90)
	require.NoError(t, err)

	assert.NotContains(t, got, "image/webp")
	assert.True(t, strings.HasPrefix(got, `<svg><image x="0" y="0" width="1" height="1" xlink:href="data:image/jpeg;base64,`))
	assert.True(t, strings.HasSuffix(got, `"/><text>12</text></svg>`))

	start := strings.Index(got, jpegPrefix) + len(jpegPrefix)
	end := strings.Index(got[start:], uriEnd) + start
	raw, err := base64.StdEncoding.DecodeString(got[start:end])
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 1), img.Bounds())
}

func TestNormalizeImagesMultiple(t *testing.T) {
	uri := `<image href="data:image/webp;base64,` + webpPixel + `"/>`
	got, err := NormalizeImages("<svg>"+uri+uri+"</svg>", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(got, jpegPrefix))
}

func TestNormalizeImagesWithoutWebP(t *testing.T) {
	markup := `<svg><image href="data:image/png;base64,AAAA"/></svg>`
	got, err := NormalizeImages(markup, 100)
	require.NoError(t, err)
	assert.Equal(t, markup, got)
}

func TestNormalizeImagesCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		markup string
	}{
		{"bad base64", `<image href="data:image/webp;base64,***"/>`},
		{"not webp", `<image href="data:image/webp;base64,` + base64.StdEncoding.EncodeToString([]byte("hello")) + `"/>`},
		{"unterminated", `<image href="data:image/webp;base64,` + webpPixel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeImages(tt.markup, 100)
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindDecryptionFailure))
		})
	}
}

func TestFlattenOntoWhite(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{A: 0})
	src.Set(1, 0, color.NRGBA{R: 255, A: 255})

	out := Flatten(src)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(1, 0))
}

func TestDecodeBase64Variants(t *testing.T) {
	for _, in := range []string{"aGk=", "aGk", "aG\nk="} {
		raw, err := DecodeBase64(in)
		require.NoError(t, err, in)
		assert.Equal(t, "hi", string(raw))
	}

	_, err := DecodeBase64("%%%")
	assert.Error(t, err)
}
