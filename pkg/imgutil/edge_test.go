package imgutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

// verticalLine は白地に x=col の黒い縦線を描いたグレースケール画像です。
func verticalLine(w, h, col int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	for y := 0; y < h; y++ {
		g.SetGray(col, y, color.Gray{Y: 0})
	}
	return g
}

func TestEdges(t *testing.T) {
	t.Run("一様な画像にはエッジがない", func(t *testing.T) {
		g := image.NewGray(image.Rect(0, 0, 16, 16))
		assert.Zero(t, Edges(g, DefaultEdgeThreshold).Count())
	})

	t.Run("縦線の両側にエッジが出る", func(t *testing.T) {
		m := Edges(verticalLine(16, 16, 8), DefaultEdgeThreshold)
		assert.True(t, m.At(7, 5))
		assert.True(t, m.At(9, 5))
		assert.False(t, m.At(2, 5))
		assert.False(t, m.At(0, 0), "border pixels are never edges")
	})
}

func TestDilate(t *testing.T) {
	m := NewMask(9, 9)
	m.Set(4, 4)

	assert.Equal(t, 1, Dilate(m, 0).Count())
	// 半径1の円盤は十字の5ピクセル
	assert.Equal(t, 5, Dilate(m, 1).Count())
	// 半径2の円盤は13ピクセル
	assert.Equal(t, 13, Dilate(m, 2).Count())

	corner := NewMask(3, 3)
	corner.Set(0, 0)
	assert.Equal(t, 3, Dilate(corner, 1).Count(), "pixels outside the mask are clipped")
}

func TestMask_And(t *testing.T) {
	a, b := NewMask(4, 1), NewMask(4, 1)
	a.Set(0, 0)
	a.Set(1, 0)
	b.Set(1, 0)
	b.Set(2, 0)
	b.Set(9, 9)
	assert.Equal(t, 1, a.And(b))
	assert.False(t, a.At(-1, 0))
}
