package sheet

import (
	"image"
	"math"
	"sort"

	"github.com/shouni/archsheet-kit/pkg/domain"
)

// A1 横置きの寸法 (mm)
const (
	A1WidthMM  = 841.0
	A1HeightMM = 594.0
)

const (
	DefaultDPI      = 150
	DefaultMarginMM = 12.0
	gutterMM        = 5.0
	metaColumnRatio = 0.2
)

// Config はシート描画の設定です。
type Config struct {
	DPI      int     `yaml:"dpi"`
	MarginMM float64 `yaml:"margin_mm"`
	Title    string  `yaml:"title"`
}

// Slot はシート上の1ビュー分の配置枠です。
type Slot struct {
	View domain.View
	Rect image.Rectangle
}

// Layout はシート全体の配置です。
type Layout struct {
	Canvas image.Rectangle
	Panels []Slot
	Meta   image.Rectangle
}

// SlotFor は指定ビューの配置枠を返します。
func (l Layout) SlotFor(v domain.View) (image.Rectangle, bool) {
	for _, s := range l.Panels {
		if s.View == v {
			return s.Rect, true
		}
	}
	return image.Rectangle{}, false
}

// PixelSize は DPI から A1 シートのピクセル寸法を返します。
func PixelSize(dpi int) (int, int) {
	return mmToPx(A1WidthMM, dpi), mmToPx(A1HeightMM, dpi)
}

func mmToPx(mm float64, dpi int) int {
	return int(math.Round(mm / 25.4 * float64(dpi)))
}

// 行の割り当て: 平面・配置図 / 立面図 / 断面図・3D
func rowOf(v domain.View) int {
	switch v.Category() {
	case domain.CategoryPlan, domain.CategorySite:
		return 0
	case domain.CategoryElevation:
		return 1
	default:
		return 2
	}
}

// Layout は与えられたビューの配置を決定的に計算します。
// ビューはシート上の固定順序で並べられ、空の行は詰められます。
func (c *Composer) Layout(views []domain.View) Layout {
	w, h := PixelSize(c.cfg.DPI)
	margin := mmToPx(c.cfg.MarginMM, c.cfg.DPI)
	gutter := mmToPx(gutterMM, c.cfg.DPI)

	content := image.Rect(margin, margin, w-margin, h-margin)
	metaW := int(float64(content.Dx()) * metaColumnRatio)
	meta := image.Rect(content.Max.X-metaW, content.Min.Y, content.Max.X, content.Max.Y)
	main := image.Rect(content.Min.X, content.Min.Y, meta.Min.X-gutter, content.Max.Y)

	sorted := uniqueViews(views)
	var rows [3][]domain.View
	for _, v := range sorted {
		r := rowOf(v)
		rows[r] = append(rows[r], v)
	}
	var used [][]domain.View
	for _, r := range rows {
		if len(r) > 0 {
			used = append(used, r)
		}
	}

	l := Layout{Canvas: image.Rect(0, 0, w, h), Meta: meta}
	if len(used) == 0 {
		return l
	}

	rowH := (main.Dy() - gutter*(len(used)-1)) / len(used)
	for i, row := range used {
		y0 := main.Min.Y + i*(rowH+gutter)
		cellW := (main.Dx() - gutter*(len(row)-1)) / len(row)
		for j, v := range row {
			x0 := main.Min.X + j*(cellW+gutter)
			l.Panels = append(l.Panels, Slot{View: v, Rect: image.Rect(x0, y0, x0+cellW, y0+rowH)})
		}
	}
	return l
}

func uniqueViews(views []domain.View) []domain.View {
	seen := make(map[domain.View]bool, len(views))
	out := make([]domain.View, 0, len(views))
	for _, v := range views {
		if !v.Valid() || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal() < out[j].Ordinal() })
	return out
}
