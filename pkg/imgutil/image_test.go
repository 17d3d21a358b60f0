package imgutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAndEncodePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	img.Set(3, 3, color.RGBA{10, 20, 30, 255})

	data, err := EncodePNG(img)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 8), got.Bounds())
	r, g, b, _ := got.At(3, 3).RGBA()
	assert.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8})

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestToGray_ResetsOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 20, 15))
	src.Set(10, 10, color.White)

	g := ToGray(src)
	assert.Equal(t, image.Rect(0, 0, 10, 5), g.Bounds())
	assert.Equal(t, uint8(255), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), g.GrayAt(1, 1).Y)
}

func TestGrayAt(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 100))
	g := GrayAt(src, 64, 64)
	assert.Equal(t, image.Rect(0, 0, 64, 64), g.Bounds())
}

func TestFit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))

	got := Fit(src, 100, 100)
	assert.Equal(t, 100, got.Bounds().Dx())
	assert.Equal(t, 50, got.Bounds().Dy())

	got = Fit(src, 1000, 300)
	assert.Equal(t, 600, got.Bounds().Dx())
	assert.Equal(t, 300, got.Bounds().Dy())

	assert.Same(t, src, Fit(src, 0, 10))
}

func TestFlatten(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(1, 0, color.NRGBA{0, 0, 0, 255})

	got := Flatten(src)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, got.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, got.RGBAAt(1, 0))
}
