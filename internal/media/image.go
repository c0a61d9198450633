// Package media decodes image files into the runner's channel-major pixel
// layout.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/samcharles93/mmrunner/internal/runner"
)

// Decode reads an encoded image (png, jpeg, gif, bmp or webp). When maxSide
// is positive the image is scaled down, keeping its aspect ratio, so that
// neither side exceeds it.
func Decode(r io.Reader, maxSide int) (runner.Image, string, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return runner.Image{}, "", fmt.Errorf("decode image: %w", err)
	}
	return FromImage(Fit(src, maxSide)), format, nil
}

// DecodeBytes is Decode over an in-memory file.
func DecodeBytes(data []byte, maxSide int) (runner.Image, string, error) {
	return Decode(bytes.NewReader(data), maxSide)
}

func LoadFile(path string, maxSide int) (runner.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return runner.Image{}, err
	}
	defer f.Close()

	img, _, err := Decode(f, maxSide)
	if err != nil {
		return runner.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Fit scales src down so its longer side is maxSide. Images that already
// fit, and maxSide <= 0, are returned unchanged.
func Fit(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return src
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// FromImage converts any image to 3-channel RGB in CHW order. Alpha is
// dropped.
func FromImage(src image.Image) runner.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]uint8, 3*plane)
	for y := range h {
		for x := range w {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			data[i] = uint8(r >> 8)
			data[plane+i] = uint8(g >> 8)
			data[2*plane+i] = uint8(bl >> 8)
		}
	}
	return runner.Image{Width: w, Height: h, Channels: 3, Data: data}
}
