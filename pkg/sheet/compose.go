package sheet

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/imgutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	frameColor   = color.RGBA{0x33, 0x33, 0x33, 0xFF}
	captionColor = color.RGBA{0x11, 0x11, 0x11, 0xFF}
	mutedColor   = color.RGBA{0x88, 0x88, 0x88, 0xFF}
	warnColor    = color.RGBA{0xB0, 0x30, 0x20, 0xFF}
)

// Panel はシートに配置する1ビュー分の画像です。Image が nil の場合は空枠を描きます。
type Panel struct {
	View       domain.View
	Image      image.Image
	Score      *domain.Score
	RolledBack bool
}

// Meta はメタデータ欄とタイトルブロックの内容です。
type Meta struct {
	DesignID string
	Version  int
	Brief    domain.ProjectBrief
	DNA      *domain.DesignDNA
	Date     time.Time
}

// Composer は A1 プレゼンテーションシートを合成します。
type Composer struct {
	cfg Config
}

// NewComposer は設定の欠損値を補って Composer を初期化します。
func NewComposer(cfg Config) *Composer {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.MarginMM <= 0 {
		cfg.MarginMM = DefaultMarginMM
	}
	return &Composer{cfg: cfg}
}

// Compose はパネル群とメタデータから1枚のシート画像を合成します。
func (c *Composer) Compose(panels []Panel, meta Meta) (*image.RGBA, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("シートに配置するパネルがありません")
	}
	byView := make(map[domain.View]Panel, len(panels))
	views := make([]domain.View, 0, len(panels))
	for _, p := range panels {
		if !p.View.Valid() {
			return nil, fmt.Errorf("unknown view: %q", p.View)
		}
		byView[p.View] = p
		views = append(views, p.View)
	}

	l := c.Layout(views)
	canvas := image.NewRGBA(l.Canvas)
	fill(canvas, canvas.Bounds(), color.White)

	for _, s := range l.Panels {
		c.drawPanel(canvas, s.Rect, byView[s.View])
	}
	c.drawMeta(canvas, l.Meta, meta, l.Panels, byView)
	return canvas, nil
}

// EncodePNG はシート画像を PNG にエンコードします。
func EncodePNG(img image.Image) ([]byte, error) {
	return imgutil.EncodePNG(img)
}

func (c *Composer) textScale() int {
	return max(1, c.cfg.DPI/50)
}

func (c *Composer) lineWidth() int {
	return max(1, c.cfg.DPI/75)
}

func (c *Composer) drawPanel(dst *image.RGBA, r image.Rectangle, p Panel) {
	scale := c.textScale()
	pad := mmToPx(2, c.cfg.DPI)
	captionH := basicfont.Face7x13.Height*scale + pad

	stroke(dst, r, c.lineWidth(), frameColor)

	area := image.Rect(r.Min.X+pad, r.Min.Y+pad, r.Max.X-pad, r.Max.Y-pad-captionH)
	if area.Empty() {
		return
	}

	if p.Image != nil {
		fitted := imgutil.Fit(imgutil.Flatten(p.Image), area.Dx(), area.Dy())
		fb := fitted.Bounds()
		x := area.Min.X + (area.Dx()-fb.Dx())/2
		y := area.Min.Y + (area.Dy()-fb.Dy())/2
		draw.Draw(dst, image.Rect(x, y, x+fb.Dx(), y+fb.Dy()), fitted, fb.Min, draw.Src)
	} else {
		label := "NOT GENERATED"
		tw := textWidth(label, scale)
		drawText(dst, area.Min.X+(area.Dx()-tw)/2, area.Min.Y+area.Dy()/2, label, scale, area.Dx(), mutedColor)
	}

	caption := p.View.Title()
	col := captionColor
	switch {
	case p.RolledBack:
		caption += "  (BASELINE KEPT)"
		col = warnColor
	case p.Score != nil:
		caption += "  " + strconv.FormatFloat(p.Score.Combined, 'f', 2, 64)
	}
	drawText(dst, r.Min.X+pad, r.Max.Y-captionH, caption, scale, r.Dx()-2*pad, col)
}

func (c *Composer) drawMeta(dst *image.RGBA, r image.Rectangle, m Meta, slots []Slot, panels map[domain.View]Panel) {
	scale := c.textScale()
	pad := mmToPx(4, c.cfg.DPI)
	lineH := basicfont.Face7x13.Height*scale + scale*3
	maxW := r.Dx() - 2*pad

	stroke(dst, r, c.lineWidth(), frameColor)

	// タイトルブロックは欄の最下部に固定し、上の記載はその手前で打ち切ります。
	block := image.Rect(r.Min.X, r.Max.Y-lineH*4-pad, r.Max.X, r.Max.Y)
	upper := dst.SubImage(image.Rect(r.Min.X, r.Min.Y, r.Max.X, block.Min.Y)).(*image.RGBA)

	x := r.Min.X + pad
	y := r.Min.Y + pad
	fits := func(h int) bool { return y+h <= block.Min.Y }

	title := c.cfg.Title
	if title == "" {
		title = m.Brief.ProjectName
	}
	if title == "" {
		title = "ARCHITECTURAL PRESENTATION"
	}
	y += drawText(upper, x, y, strings.ToUpper(title), scale*2, maxW, captionColor) + lineH/2

	line := func(s string) {
		if !fits(lineH) {
			return
		}
		y += drawText(upper, x, y, s, scale, maxW, captionColor) + scale*3
	}

	if m.Brief.Address != "" {
		line(m.Brief.Address)
	}
	if m.Brief.BuildingType != "" {
		line("TYPE: " + strings.ToUpper(m.Brief.BuildingType))
	}

	if d := m.DNA; d != nil {
		dim := d.Dimensions
		line(fmt.Sprintf("FLOOR AREA: %.0f m2", dim.TotalArea))
		line(fmt.Sprintf("FLOORS: %d", dim.Floors))
		line(fmt.Sprintf("DIMENSIONS: %.1f x %.1f x %.1f m", dim.Length, dim.Width, dim.Height))
		if d.Roof.Type != "" {
			line(fmt.Sprintf("ROOF: %s %.0f deg %s", d.Roof.Type, d.Roof.Pitch, d.Roof.Material))
		}
		if d.Style.Architecture != "" {
			line("STYLE: " + d.Style.Architecture)
		}

		y += lineH / 2
		line("MATERIALS")
		sw := lineH
		for _, mat := range d.Materials {
			if !fits(sw) {
				break
			}
			fill(upper, image.Rect(x, y, x+sw, y+sw-scale*3), parseHex(mat.Hex))
			stroke(upper, image.Rect(x, y, x+sw, y+sw-scale*3), 1, frameColor)
			drawText(upper, x+sw+pad/2, y, fmt.Sprintf("%s  %s  %s", mat.Name, mat.Hex, mat.Application), scale, maxW-sw-pad/2, captionColor)
			y += sw
		}
	}

	y += lineH / 2
	line("CONSISTENCY")
	for _, s := range slots {
		if !fits(lineH) {
			break
		}
		p := panels[s.View]
		status := "-"
		col := mutedColor
		switch {
		case p.RolledBack:
			status = "BASELINE KEPT"
			col = warnColor
		case p.Score != nil:
			status = strconv.FormatFloat(p.Score.Combined, 'f', 2, 64)
			col = captionColor
			if !p.Score.Passed {
				col = warnColor
			}
		}
		y += drawText(upper, x, y, fmt.Sprintf("%-22s %s", s.View.Title(), status), scale, maxW, col) + scale*2
	}

	stroke(dst, block, c.lineWidth(), frameColor)
	by := block.Min.Y + pad/2
	var seedText string
	if m.DNA != nil {
		seedText = strconv.FormatInt(m.DNA.Seed, 10)
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	for _, s := range []string{
		"DESIGN " + m.DesignID,
		fmt.Sprintf("VERSION v%03d   SEED %s", m.Version, seedText),
		"DATE " + date.Format("2006-01-02"),
		"SHEET A1",
	} {
		by += drawText(dst, x, by, s, scale, maxW, captionColor) + scale*2
	}
}

// drawText は basicfont のビットマップ文字を scale 倍に拡大して描画し、描画した高さを返します。
// maxW を超える文字列は末尾を切り詰めます。
func drawText(dst draw.Image, x, y int, s string, scale, maxW int, col color.Color) int {
	face := basicfont.Face7x13
	if maxW > 0 {
		maxChars := maxW / (face.Advance * scale)
		if r := []rune(s); len(r) > maxChars {
			if maxChars <= 0 {
				return 0
			}
			s = string(r[:maxChars])
		}
	}
	w := font.MeasureString(face, s).Ceil()
	if w == 0 {
		return 0
	}
	tmp := image.NewRGBA(image.Rect(0, 0, w, face.Height))
	d := &font.Drawer{
		Dst:  tmp,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)

	var src image.Image = tmp
	if scale > 1 {
		src = resize.Resize(uint(w*scale), uint(face.Height*scale), tmp, resize.NearestNeighbor)
	}
	sb := src.Bounds()
	draw.Draw(dst, image.Rect(x, y, x+sb.Dx(), y+sb.Dy()), src, sb.Min, draw.Over)
	return sb.Dy()
}

func textWidth(s string, scale int) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil() * scale
}

func fill(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func stroke(dst draw.Image, r image.Rectangle, w int, c color.Color) {
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y), c)
	fill(dst, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// parseHex は #RRGGBB を色に変換します。不正な値はグレーになります。
func parseHex(h string) color.RGBA {
	h = strings.TrimPrefix(h, "#")
	v, err := strconv.ParseUint(h, 16, 32)
	if len(h) != 6 || err != nil {
		return color.RGBA{0x9E, 0x9E, 0x9E, 0xFF}
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xFF}
}
