package consistency

import (
	"errors"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
	"github.com/shouni/archsheet-kit/pkg/imgutil"
)

// ErrSizeMismatch は比較する2画像のサイズが異なることを示します。
var ErrSizeMismatch = errors.New("image sizes do not match")

const (
	hashBits   = 64.0
	ssimWindow = 8
	ssimStride = 4
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

// PerceptualSimilarity は pHash のハミング距離から 0..1 の類似度を返します。
func PerceptualSimilarity(a, b image.Image) (float64, error) {
	ha, err := goimagehash.PerceptionHash(a)
	if err != nil {
		return 0, fmt.Errorf("pHash の計算に失敗しました: %w", err)
	}
	hb, err := goimagehash.PerceptionHash(b)
	if err != nil {
		return 0, fmt.Errorf("pHash の計算に失敗しました: %w", err)
	}
	d, err := ha.Distance(hb)
	if err != nil {
		return 0, err
	}
	return 1 - float64(d)/hashBits, nil
}

// SSIM は両画像を size×size のグレースケールに縮小し、8×8 窓 (ストライド4) の平均 SSIM を返します。
func SSIM(a, b image.Image, size int) (float64, error) {
	if size < ssimWindow {
		return 0, fmt.Errorf("SSIM size must be at least %d, got %d", ssimWindow, size)
	}
	ga := imgutil.GrayAt(a, uint(size), uint(size))
	gb := imgutil.GrayAt(b, uint(size), uint(size))
	return ssimGray(ga, gb)
}

func ssimGray(a, b *image.Gray) (float64, error) {
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return 0, ErrSizeMismatch
	}
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w < ssimWindow || h < ssimWindow {
		return 0, fmt.Errorf("image %dx%d is smaller than the SSIM window", w, h)
	}

	var total float64
	var windows int
	n := float64(ssimWindow * ssimWindow)
	for y := 0; y+ssimWindow <= h; y += ssimStride {
		for x := 0; x+ssimWindow <= w; x += ssimStride {
			var sa, sb, saa, sbb, sab float64
			for j := y; j < y+ssimWindow; j++ {
				for i := x; i < x+ssimWindow; i++ {
					va := float64(a.Pix[j*a.Stride+i])
					vb := float64(b.Pix[j*b.Stride+i])
					sa += va
					sb += vb
					saa += va * va
					sbb += vb * vb
					sab += va * vb
				}
			}
			ma, mb := sa/n, sb/n
			varA := saa/n - ma*ma
			varB := sbb/n - mb*mb
			cov := sab/n - ma*mb
			total += ((2*ma*mb + ssimC1) * (2*cov + ssimC2)) /
				((ma*ma + mb*mb + ssimC1) * (varA + varB + ssimC2))
			windows++
		}
	}
	return total / float64(windows), nil
}

// Metrics はエッジ一致度の内訳です。
type Metrics struct {
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1"`
	GeomEdges   int     `json:"geom_edges"`
	RenderEdges int     `json:"render_edges"`
}

// EdgeF1 は基準画像 (geom) と生成画像 (render) のエッジを許容誤差 tolerancePx で照合します。
// 適合率は render のエッジのうち膨張させた geom エッジと重なる割合、
// 再現率は geom のエッジのうち膨張させた render エッジと重なる割合です。
func EdgeF1(geom, render image.Image, tolerancePx int) (Metrics, error) {
	return edgeF1(imgutil.ToGray(geom), imgutil.ToGray(render), tolerancePx, imgutil.DefaultEdgeThreshold)
}

func edgeF1(geom, render *image.Gray, tolerancePx int, threshold float64) (Metrics, error) {
	if geom.Rect.Dx() != render.Rect.Dx() || geom.Rect.Dy() != render.Rect.Dy() {
		return Metrics{}, fmt.Errorf("%w: %v vs %v", ErrSizeMismatch, geom.Rect.Size(), render.Rect.Size())
	}
	ge := imgutil.Edges(geom, threshold)
	re := imgutil.Edges(render, threshold)

	m := Metrics{GeomEdges: ge.Count(), RenderEdges: re.Count()}
	switch {
	case m.GeomEdges == 0 && m.RenderEdges == 0:
		// どちらにも線が無ければ一致とみなします
		m.Precision, m.Recall, m.F1 = 1, 1, 1
		return m, nil
	case m.GeomEdges == 0 || m.RenderEdges == 0:
		return m, nil
	}

	m.Precision = float64(re.And(imgutil.Dilate(ge, tolerancePx))) / float64(m.RenderEdges)
	m.Recall = float64(ge.And(imgutil.Dilate(re, tolerancePx))) / float64(m.GeomEdges)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}
