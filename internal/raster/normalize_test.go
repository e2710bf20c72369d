package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	got, err := Normalize(bytes.NewReader(pngBytes(t, 40, 20, color.NRGBA{R: 255, A: 255})), 100)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Bounds().Dx())
	assert.Equal(t, 20, got.Bounds().Dy())
}

func TestNormalizeScalesLongerEdge(t *testing.T) {
	got, err := Normalize(bytes.NewReader(pngBytes(t, 400, 200, color.NRGBA{G: 255, A: 255})), 100)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Bounds().Dx())
	assert.Equal(t, 50, got.Bounds().Dy())
}

func TestNormalizeFlattensAlpha(t *testing.T) {
	// Fully transparent source must come out opaque white.
	got, err := Normalize(bytes.NewReader(pngBytes(t, 10, 10, color.NRGBA{})), 100)
	require.NoError(t, err)

	r, g, b, a := got.At(5, 5).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize(strings.NewReader("definitely not an image"), 100)
	assert.Error(t, err)
}

func TestEncodeJPEG(t *testing.T) {
	img := Flatten(image.NewNRGBA(image.Rect(0, 0, 8, 8)), 100)
	data, err := EncodeJPEG(img, 70)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}), "jpeg magic")
}
