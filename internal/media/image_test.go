package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestFromImageIsChannelMajor(t *testing.T) {
	t.Parallel()
	img := FromImage(checker(2, 1))

	assert.Equal(t, 2, img.Width)
	assert.Equal(t, 1, img.Height)
	assert.Equal(t, 3, img.Channels)
	// R plane, G plane, B plane.
	assert.Equal(t, []uint8{255, 0, 0, 0, 0, 255}, img.Data)
}

func TestDecodePNGAndBMP(t *testing.T) {
	t.Parallel()

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, checker(4, 2)))
	img, format, err := DecodeBytes(pngBuf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Len(t, img.Data, 4*2*3)

	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, checker(4, 2)))
	img, format, err = DecodeBytes(bmpBuf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, "bmp", format)
	assert.Equal(t, 4, img.Width)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, _, err := DecodeBytes([]byte("not an image"), 0)
	assert.Error(t, err)
}

func TestFitKeepsAspectRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		w, h, maxSide int
		wantW, wantH  int
	}{
		{100, 50, 20, 20, 10},
		{50, 100, 20, 10, 20},
		{10, 10, 20, 10, 10},
		{300, 1, 30, 30, 1},
		{64, 64, 0, 64, 64},
	}
	for _, tc := range tests {
		got := Fit(checker(tc.w, tc.h), tc.maxSide).Bounds()
		assert.Equal(t, tc.wantW, got.Dx(), "%dx%d max %d", tc.w, tc.h, tc.maxSide)
		assert.Equal(t, tc.wantH, got.Dy(), "%dx%d max %d", tc.w, tc.h, tc.maxSide)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checker(40, 20)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err := LoadFile(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Width)
	assert.Equal(t, 5, img.Height)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.png"), 0)
	assert.Error(t, err)
}
