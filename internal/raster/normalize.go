package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// Normalize decodes an image and produces a fully opaque RGB raster bounded
// by maxSide on its longer edge: scale = min(1, maxSide/max(w,h)). Images
// already within bounds keep their dimensions. Any alpha is flattened
// against opaque white so page rendering is deterministic.
func Normalize(r io.Reader, maxSide int) (*image.RGBA, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return Flatten(src, maxSide), nil
}

// Flatten applies the normalization contract to an already decoded image.
func Flatten(src image.Image, maxSide int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	tw, th := w, h
	if longer := max(w, h); maxSide > 0 && longer > maxSide {
		scale := float64(maxSide) / float64(longer)
		tw = max(1, int(float64(w)*scale+0.5))
		th = max(1, int(float64(h)*scale+0.5))
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	stddraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, stddraw.Src)

	if tw == w && th == h {
		stddraw.Draw(dst, dst.Bounds(), src, b.Min, stddraw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	}
	return dst
}

// EncodeJPEG renders a raster to JPEG bytes at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
