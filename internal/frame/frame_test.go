package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func TestDownscale(t *testing.T) {
	out := Downscale(solid(1280, 720), MaxWidth)
	assert.Equal(t, image.Rect(0, 0, 640, 360), out.Bounds())

	small := solid(320, 240)
	assert.Same(t, small, Downscale(small, MaxWidth))
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(solid(64, 48), 80)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}
