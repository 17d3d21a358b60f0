package imgutil

import (
	"image"
	"math"
)

// DefaultEdgeThreshold は Sobel 勾配強度のしきい値です (0..約1443)。
const DefaultEdgeThreshold = 120.0

// Mask は2値のピクセルマスクです。
type Mask struct {
	W, H int
	Bits []bool
}

// NewMask は空のマスクを作成します。
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Bits: make([]bool, w*h)}
}

// At は (x, y) の値を返します。範囲外は false です。
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[y*m.W+x]
}

// Set は (x, y) を true にします。
func (m *Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	m.Bits[y*m.W+x] = true
}

// Count は true のピクセル数です。
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// And は両方のマスクで true のピクセル数を返します。サイズは同じである必要があります。
func (m *Mask) And(o *Mask) int {
	n := 0
	for i, b := range m.Bits {
		if b && i < len(o.Bits) && o.Bits[i] {
			n++
		}
	}
	return n
}

// Edges は Sobel 勾配強度がしきい値以上のピクセルをエッジとするマスクを返します。
// 外周1ピクセルは判定しません。
func Edges(g *image.Gray, threshold float64) *Mask {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	m := NewMask(w, h)
	px := func(x, y int) float64 {
		return float64(g.Pix[y*g.Stride+x])
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1) +
				px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)
			gy := -px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1) +
				px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)
			if math.Hypot(gx, gy) >= threshold {
				m.Bits[y*w+x] = true
			}
		}
	}
	return m
}

// Dilate は半径 radius の円形構造要素で膨張させたマスクを返します。
func Dilate(m *Mask, radius int) *Mask {
	if radius <= 0 {
		out := NewMask(m.W, m.H)
		copy(out.Bits, m.Bits)
		return out
	}
	var offsets []image.Point
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				offsets = append(offsets, image.Point{X: dx, Y: dy})
			}
		}
	}
	out := NewMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if !m.Bits[y*m.W+x] {
				continue
			}
			for _, o := range offsets {
				out.Set(x+o.X, y+o.Y)
			}
		}
	}
	return out
}
