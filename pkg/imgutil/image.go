package imgutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/nfnt/resize"
)

// Decode は画像データをデコードします。
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗しました: %w", err)
	}
	return img, nil
}

// EncodePNG は画像を PNG にエンコードします。
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("PNG エンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// ToGray はグレースケールに変換します。原点は (0,0) に揃えます。
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// GrayAt はリサイズ後のグレースケール画像を返します。比較前の正規化に使います。
func GrayAt(img image.Image, width, height uint) *image.Gray {
	resized := resize.Resize(width, height, img, resize.Bilinear)
	return ToGray(resized)
}

// Fit はアスペクト比を保ったまま w×h に収まるよう縮小・拡大します。
func Fit(img image.Image, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return img
	}
	scale := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	nw := max(1, int(float64(b.Dx())*scale))
	nh := max(1, int(float64(b.Dy())*scale))
	return resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
}

// Flatten は透過部分を白で塗りつぶした RGBA を返します。
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
