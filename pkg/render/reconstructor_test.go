package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"znum/pkg/config"
	errs "znum/pkg/errors"
	"znum/pkg/models"
	"znum/pkg/protocol"
	"znum/pkg/vector"
)

func solidPNG(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgba(c color.Color) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func TestReconstructSlicesInOrder(t *testing.T) {
	r := New(config.DefaultConfig().Render)
	resp := &protocol.PageResponse{
		StatusText: "OK",
		Payload: protocol.RasterSlices{
			solidPNG(t, 4, 2, red),
			solidPNG(t, 4, 3, green),
			solidPNG(t, 2, 1, blue),
		},
	}

	out, err := r.Reconstruct(resp, models.KeyMaterial{})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 4, 6), img.Bounds())
	assert.Equal(t, red, rgba(img.At(0, 0)))
	assert.Equal(t, red, rgba(img.At(3, 1)))
	assert.Equal(t, green, rgba(img.At(0, 2)))
	assert.Equal(t, green, rgba(img.At(3, 4)))
	assert.Equal(t, blue, rgba(img.At(1, 5)))
	// narrower slice is left aligned on white
	assert.Equal(t, white, rgba(img.At(3, 5)))
}

func TestReconstructUndecodableSlice(t *testing.T) {
	r := New(config.DefaultConfig().Render)

	for _, s := range []string{"!!!", base64.StdEncoding.EncodeToString([]byte("not an image"))} {
		resp := &protocol.PageResponse{StatusText: "OK", Payload: protocol.RasterSlices{solidPNG(t, 1, 1, red), s}}
		out, err := r.Reconstruct(resp, models.KeyMaterial{})
		require.Error(t, err)
		assert.Nil(t, out)
		assert.True(t, errs.IsKind(err, errs.KindProtocolMismatch))
	}
}

func TestReconstructWithoutPayload(t *testing.T) {
	r := New(config.DefaultConfig().Render)

	_, err := r.Reconstruct(&protocol.PageResponse{StatusText: "OK"}, models.KeyMaterial{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindProtocolMismatch))

	_, err = r.Reconstruct(nil, models.KeyMaterial{})
	assert.True(t, errs.IsKind(err, errs.KindProtocolMismatch))
}

func encryptedPage(t *testing.T, plain, key string) protocol.VectorMarkup {
	t.Helper()
	enc, err := vector.Encrypt(plain, key)
	require.NoError(t, err)
	return protocol.VectorMarkup(enc)
}

func TestReconstructVector(t *testing.T) {
	key := models.KeyMaterial{CryptoKey: "s3cr3t", CryptoKeyID: "1"}
	plain := `<svg xmlns="http://www.w3.org/2000/svg" width="72" height="36" viewBox="0 0 72 36">` +
		`<rect x="0" y="0" width="36" height="36" fill="#000000"/></svg>`

	r := &Reconstructor{Density: 144, JPEGQuality: 100}
	resp := &protocol.PageResponse{StatusText: "OK", Payload: encryptedPage(t, plain, key.CryptoKey)}

	out, err := r.Reconstruct(resp, key)
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 144, 72), img.Bounds())
	assert.Equal(t, black, rgba(img.At(20, 20)))
	assert.Equal(t, white, rgba(img.At(120, 20)))
}

func TestReconstructVectorEmbeddedImage(t *testing.T) {
	key := models.KeyMaterial{CryptoKey: "ab"}
	plain := `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="72" height="36">` +
		`<image x="36" y="0" width="36" height="36" xlink:href="data:image/png;base64,` + solidPNG(t, 4, 4, red) + `"/>` +
		`</svg>`

	r := &Reconstructor{Density: 72, JPEGQuality: 100}
	out, err := r.Reconstruct(&protocol.PageResponse{StatusText: "OK", Payload: encryptedPage(t, plain, key.CryptoKey)}, key)
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 72, 36), img.Bounds())
	assert.Equal(t, white, rgba(img.At(10, 18)))

	c := rgba(img.At(54, 18))
	assert.Greater(t, c.R, uint8(200))
	assert.Less(t, c.G, uint8(50))
}

func TestReconstructVectorWrongKeyOrGarbage(t *testing.T) {
	r := &Reconstructor{Density: 72, JPEGQuality: 100}

	_, err := r.Reconstruct(&protocol.PageResponse{StatusText: "OK", Payload: protocol.VectorMarkup("<?xml?>not svg")}, models.KeyMaterial{CryptoKey: "k"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindDecryptionFailure))

	_, err = r.Reconstruct(&protocol.PageResponse{StatusText: "OK", Payload: protocol.VectorMarkup("<svg>1</svg>")}, models.KeyMaterial{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindDecryptionFailure))
}
