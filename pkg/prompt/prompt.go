package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/seed"
)

// MaxLockStrength は再試行時に適用されるロック強度の上限です。
const MaxLockStrength = 3

// Options はプロンプト生成の可変要素です。
type Options struct {
	// Instruction は修正ワークフローでユーザーが指示した変更内容です。
	Instruction string
	// LockStrength はドリフト時の再試行で段階的に引き上げます (0..MaxLockStrength)。
	LockStrength int
	// HasBaseline はベースライン画像を参照画像として添付するかどうかです。
	HasBaseline bool
}

// Prompt は1ビュー分の画像生成入力です。
type Prompt struct {
	View        domain.View
	Text        string
	Negative    string
	AspectRatio string
	Seed        int64
}

// Builder は DNA とビューから決定的なプロンプトを組み立てます。
type Builder struct {
	aspectRatios map[domain.View]string
}

// NewBuilder は Builder を初期化します。overrides はビューごとのアスペクト比の上書きです。
func NewBuilder(overrides map[domain.View]string) *Builder {
	ar := make(map[domain.View]string, len(overrides))
	for v, r := range overrides {
		if v.Valid() && r != "" {
			ar[v] = r
		}
	}
	return &Builder{aspectRatios: ar}
}

// Build はプロンプトを生成します。同じ DNA・ビュー・オプションからは常に同一の結果を返します。
func (b *Builder) Build(d *domain.DesignDNA, v domain.View, opts Options) Prompt {
	var sb strings.Builder

	writeHeader(&sb, d, v)
	writeLock(&sb, d)
	switch v.Category() {
	case domain.CategoryPlan:
		writePlan(&sb, d, v)
	case domain.CategorySite:
		writeSite(&sb, d)
	case domain.CategoryElevation:
		writeElevation(&sb, d, v)
	case domain.CategorySection:
		writeSection(&sb, d, v)
	case domain.Category3D:
		write3D(&sb, d, v)
	}
	writeRules(&sb, d)
	if opts.Instruction != "" {
		writeModification(&sb, opts)
	}
	if opts.LockStrength > 0 {
		writeEscalation(&sb, opts.LockStrength)
	}

	return Prompt{
		View:        v,
		Text:        strings.TrimSpace(sb.String()),
		Negative:    Negative(v),
		AspectRatio: b.aspectRatio(v),
		Seed:        SeedFor(d.Seed, v),
	}
}

func (b *Builder) aspectRatio(v domain.View) string {
	if r, ok := b.aspectRatios[v]; ok {
		return r
	}
	return v.AspectRatio()
}

// SeedFor はビュー別のシードを返します。修正時も同じ値になります。
func SeedFor(base int64, v domain.View) int64 {
	return seed.ForView(base, string(v))
}

// Hash はプロンプトの内容ハッシュです。再生成の要否判定に使います。
func Hash(p Prompt) string {
	h := sha256.New()
	for _, s := range []string{string(p.View), p.Text, p.Negative, p.AspectRatio} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%d", p.Seed)
	return hex.EncodeToString(h.Sum(nil))
}

// Negative はビュー種別ごとのネガティブプロンプトです。
func Negative(v domain.View) string {
	common := "blurry, low resolution, watermark, distorted geometry, inconsistent window count, extra floors, missing floors"
	switch v.Category() {
	case domain.Category3D:
		return common + ", text, labels, annotations, dimension lines, title block, people cropped"
	default:
		return common + ", perspective, vanishing point, shading, shadows, photographic texture, color gradients, 3d render"
	}
}

func writeHeader(sb *strings.Builder, d *domain.DesignDNA, v domain.View) {
	fmt.Fprintf(sb, "%s of a %s building.\n", v.Title(), styleName(d))
	if v.Technical() {
		sb.WriteString("Orthographic architectural line drawing, black lines on white, CAD drafting style, scale-accurate.\n")
	} else {
		sb.WriteString("Photorealistic architectural visualization, accurate proportions.\n")
	}
	sb.WriteString("\n")
}

func writeLock(sb *strings.Builder, d *domain.DesignDNA) {
	dim := d.Dimensions
	sb.WriteString("DESIGN DNA LOCK (must match exactly):\n")
	fmt.Fprintf(sb, "- Footprint: %s m x %s m, overall height %s m\n", num(dim.Length), num(dim.Width), num(dim.Height))
	fmt.Fprintf(sb, "- Floors: %d, floor-to-floor height %s m\n", dim.Floors, num(dim.FloorHeight))
	for _, m := range d.Materials {
		fmt.Fprintf(sb, "- Material (%s): %s %s\n", m.Application, m.Name, m.Hex)
	}
	fmt.Fprintf(sb, "- Roof: %s, %s degrees, %s\n", d.Roof.Type, num(d.Roof.Pitch), orNone(d.Roof.Material))
	fmt.Fprintf(sb, "- Windows: %s, %s proportion, %s\n", d.Windows.Pattern, d.Windows.Proportion, windowCounts(d))
	fmt.Fprintf(sb, "- Main entrance: %s facade\n", d.Entrance.Facade)
	sb.WriteString("\n")
}

func writePlan(sb *strings.Builder, d *domain.DesignDNA, v domain.View) {
	floor := 0
	if v == domain.ViewUpperFloorPlan {
		floor = 1
	}
	fmt.Fprintf(sb, "FLOOR %d PLAN:\n", floor)
	rooms := d.RoomsOnFloor(floor)
	if len(rooms) == 0 {
		sb.WriteString("- Open plan, no rooms specified on this floor\n")
	}
	for _, r := range rooms {
		line := fmt.Sprintf("- %s, %s m2", r.Name, num(r.Area))
		if r.Orientation != "" {
			line += ", facing " + r.Orientation
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("- External walls 300 mm, internal walls 100 mm, door swings shown\n")
	fmt.Fprintf(sb, "- Overall dimension strings %s m and %s m, room labels with areas\n", num(d.Dimensions.Length), num(d.Dimensions.Width))
	if floor == 0 {
		fmt.Fprintf(sb, "- Entrance on the %s side, north arrow at top right\n", d.Entrance.Facade)
	}
	sb.WriteString("\n")
}

func writeSite(sb *strings.Builder, d *domain.DesignDNA) {
	sb.WriteString("SITE PLAN:\n")
	fmt.Fprintf(sb, "- Roof outline %s m x %s m seen from above, %s roof\n", num(d.Dimensions.Length), num(d.Dimensions.Width), d.Roof.Type)
	fmt.Fprintf(sb, "- Access path to the %s entrance, north arrow, scale bar\n", d.Entrance.Facade)
	sb.WriteString("\n")
}

func writeElevation(sb *strings.Builder, d *domain.DesignDNA, v domain.View) {
	facade := v.Facade()
	fmt.Fprintf(sb, "%s ELEVATION:\n", strings.ToUpper(facade))
	fmt.Fprintf(sb, "- Facade width %s m, height %s m, %d floors\n", num(facadeWidth(d, facade)), num(d.Dimensions.Height), d.Dimensions.Floors)
	fmt.Fprintf(sb, "- Exactly %d windows on this facade\n", d.Windows.CountPerFacade[facade])
	if facade == d.Entrance.Facade {
		sb.WriteString("- Main entrance door on this facade\n")
	}
	if m, ok := d.MaterialFor("walls"); ok {
		fmt.Fprintf(sb, "- Wall hatch for %s\n", m.Name)
	}
	sb.WriteString("- Ground line, floor level markers\n\n")
}

func writeSection(sb *strings.Builder, d *domain.DesignDNA, v domain.View) {
	cut := "longitudinal, along the length"
	if v == domain.ViewSectionBB {
		cut = "transverse, across the width"
	}
	fmt.Fprintf(sb, "SECTION %s:\n", strings.ToUpper(strings.TrimPrefix(string(v), "section_")))
	fmt.Fprintf(sb, "- Cut %s\n", cut)
	for i := 0; i < d.Dimensions.Floors; i++ {
		fmt.Fprintf(sb, "- Level %d at +%s m\n", i, num(float64(i)*d.Dimensions.FloorHeight))
	}
	fmt.Fprintf(sb, "- %s roof at %s degrees, slab and foundation shown, height markers\n", d.Roof.Type, num(d.Roof.Pitch))
	sb.WriteString("\n")
}

func write3D(sb *strings.Builder, d *domain.DesignDNA, v domain.View) {
	switch v {
	case domain.ViewInterior3D:
		sb.WriteString("INTERIOR VIEW:\n")
		if rooms := d.RoomsOnFloor(0); len(rooms) > 0 {
			fmt.Fprintf(sb, "- Inside the %s, eye level camera\n", rooms[0].Name)
		} else {
			sb.WriteString("- Ground floor main space, eye level camera\n")
		}
		sb.WriteString("- Daylight through the windows, natural materials\n")
	case domain.ViewAxonometric3D:
		sb.WriteString("AXONOMETRIC VIEW:\n")
		sb.WriteString("- 30 degree isometric from the south-east, no perspective distortion\n")
	default:
		sb.WriteString("EXTERIOR VIEW:\n")
		fmt.Fprintf(sb, "- Eye level camera, three-quarter view showing the %s facade\n", d.Entrance.Facade)
		sb.WriteString("- Soft daylight, light landscaping\n")
	}
	for _, m := range d.Materials {
		fmt.Fprintf(sb, "- %s rendered as %s (%s)\n", capitalize(m.Application), m.Name, m.Hex)
	}
	sb.WriteString("\n")
}

func writeRules(sb *strings.Builder, d *domain.DesignDNA) {
	if len(d.ConsistencyRules) == 0 {
		return
	}
	sb.WriteString("CONSISTENCY RULES:\n")
	for _, r := range d.ConsistencyRules {
		fmt.Fprintf(sb, "- %s\n", r)
	}
	sb.WriteString("\n")
}

func writeModification(sb *strings.Builder, opts Options) {
	sb.WriteString("MODIFICATION:\n")
	fmt.Fprintf(sb, "- Apply only this change: %s\n", strings.TrimSpace(opts.Instruction))
	if opts.HasBaseline {
		sb.WriteString("- The attached image is the current version; keep everything else identical to it\n")
	}
	sb.WriteString("\n")
}

var escalation = []string{
	"",
	"STRICT: do not alter geometry, window count or materials beyond the DNA.",
	"VERY STRICT: reproduce the reference composition, camera and line weights exactly; change nothing that is not listed.",
	"MAXIMUM LOCK: the output must be a near copy of the reference image with only the listed change applied.",
}

func writeEscalation(sb *strings.Builder, level int) {
	if level > MaxLockStrength {
		level = MaxLockStrength
	}
	fmt.Fprintf(sb, "LOCK LEVEL %d: %s\n", level, escalation[level])
}

func windowCounts(d *domain.DesignDNA) string {
	parts := make([]string, 0, 4)
	for _, f := range []string{"north", "south", "east", "west"} {
		parts = append(parts, fmt.Sprintf("%s %d", f, d.Windows.CountPerFacade[f]))
	}
	return strings.Join(parts, ", ")
}

func facadeWidth(d *domain.DesignDNA, facade string) float64 {
	if facade == "east" || facade == "west" {
		return d.Dimensions.Width
	}
	return d.Dimensions.Length
}

func styleName(d *domain.DesignDNA) string {
	if d.Style.Architecture != "" {
		return strings.ToLower(d.Style.Architecture)
	}
	return "contemporary"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orNone(s string) string {
	if s == "" {
		return "unspecified material"
	}
	return s
}

// num は末尾のゼロを落とした固定書式の数値表記です。
func num(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
