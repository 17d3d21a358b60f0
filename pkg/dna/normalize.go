package dna

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
)

const (
	DefaultFloors       = 2
	DefaultFloorHeight  = 3.0
	DefaultRoofType     = "gable"
	DefaultRoofPitch    = 35.0
	DefaultWindowStyle  = "regular grid"
	DefaultProportion   = "vertical 1:2"
	DefaultEntrance     = "south"
	DefaultNeutralHex   = "#9E9E9E"
	footprintAspect     = 1.4
	flatRoofParapet     = 0.6
	defaultWindowCount  = 4
	fallbackTotalAreaM2 = 150.0
)

var (
	hexPattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)
	roofTypes  = map[string]string{
		"gable":      "gable",
		"gabled":     "gable",
		"pitched":    "gable",
		"hip":        "hip",
		"hipped":     "hip",
		"flat":       "flat",
		"mono-pitch": "mono-pitch",
		"monopitch":  "mono-pitch",
		"shed":       "mono-pitch",
		"skillion":   "mono-pitch",
	}
	facades = []string{"north", "south", "east", "west"}
)

// StandardRules は全ビューに共通して注入される一貫性ルールです。
var StandardRules = []string{
	"identical window count per facade across elevations, plans and 3D views",
	"identical materials and colors across all views",
	"identical roof form and pitch in elevations, sections and 3D views",
	"identical overall dimensions and floor count in every drawing",
	"entrance position identical in plans, elevations and 3D views",
}

// Normalize は DNA の欠損値を補完し、出力を決定的な形に整えます。
// brief は nil でも構いません。
func Normalize(d *domain.DesignDNA, brief *domain.ProjectBrief) {
	normalizeDimensions(d, brief)
	normalizeMaterials(d)
	normalizeRooms(d)
	normalizeRoof(d)
	normalizeWindows(d)

	d.Entrance.Facade = strings.ToLower(strings.TrimSpace(d.Entrance.Facade))
	if !isFacade(d.Entrance.Facade) {
		d.Entrance.Facade = DefaultEntrance
	}

	d.Style.Architecture = strings.TrimSpace(d.Style.Architecture)
	if d.Style.Architecture == "" && brief != nil && len(brief.StyleKeywords) > 0 {
		d.Style.Architecture = brief.StyleKeywords[0]
	}
	d.Style.Keywords = dedupeLower(d.Style.Keywords)

	d.ConsistencyRules = mergeRules(d.ConsistencyRules)

	if d.Version == 0 {
		d.Version = 1
	}
	if d.Seed == 0 && brief != nil && brief.Seed != nil {
		d.Seed = *brief.Seed
	}
}

func normalizeDimensions(d *domain.DesignDNA, brief *domain.ProjectBrief) {
	dim := &d.Dimensions

	if dim.Floors <= 0 {
		if brief != nil && brief.Floors > 0 {
			dim.Floors = brief.Floors
		} else {
			dim.Floors = DefaultFloors
		}
	}
	if dim.FloorHeight <= 0 {
		dim.FloorHeight = DefaultFloorHeight
	}
	if dim.TotalArea <= 0 {
		switch {
		case brief != nil && brief.FloorArea > 0:
			dim.TotalArea = brief.FloorArea
		case dim.Length > 0 && dim.Width > 0:
			dim.TotalArea = dim.Length * dim.Width * float64(dim.Floors)
		default:
			dim.TotalArea = fallbackTotalAreaM2
		}
	}
	if dim.FootprintArea <= 0 {
		if dim.Length > 0 && dim.Width > 0 {
			dim.FootprintArea = dim.Length * dim.Width
		} else {
			dim.FootprintArea = dim.TotalArea / float64(dim.Floors)
		}
	}
	if dim.Length <= 0 || dim.Width <= 0 {
		// 長辺:短辺 = 1.4 の矩形を仮定して外形を導出します。
		dim.Width = math.Sqrt(dim.FootprintArea / footprintAspect)
		dim.Length = dim.Width * footprintAspect
	}
	if dim.Width > dim.Length {
		dim.Length, dim.Width = dim.Width, dim.Length
	}

	wall := float64(dim.Floors) * dim.FloorHeight
	if dim.Height < wall {
		dim.Height = wall + roofAllowance(d.Roof, dim.Width)
	}

	dim.Length = round2(dim.Length)
	dim.Width = round2(dim.Width)
	dim.Height = round2(dim.Height)
	dim.FootprintArea = round2(dim.FootprintArea)
	dim.TotalArea = round2(dim.TotalArea)
}

func roofAllowance(r domain.Roof, span float64) float64 {
	switch roofTypes[strings.ToLower(strings.TrimSpace(r.Type))] {
	case "flat":
		return flatRoofParapet
	case "mono-pitch":
		return span * math.Tan(pitchOrDefault(r.Pitch)*math.Pi/180)
	default:
		return span / 2 * math.Tan(pitchOrDefault(r.Pitch)*math.Pi/180)
	}
}

func pitchOrDefault(p float64) float64 {
	if p <= 0 || p >= 80 {
		return DefaultRoofPitch
	}
	return p
}

func normalizeMaterials(d *domain.DesignDNA) {
	seen := make(map[string]bool)
	out := make([]domain.Material, 0, len(d.Materials))
	for _, m := range d.Materials {
		m.Name = strings.ToLower(strings.TrimSpace(m.Name))
		if m.Name == "" {
			continue
		}
		m.Application = strings.ToLower(strings.TrimSpace(m.Application))
		if m.Application == "" {
			m.Application = "walls"
		}
		key := m.Name + "|" + m.Application
		if seen[key] {
			continue
		}
		seen[key] = true
		m.Hex = normalizeHex(m.Hex)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Application != out[j].Application {
			return out[i].Application < out[j].Application
		}
		return out[i].Name < out[j].Name
	})
	d.Materials = out
}

func normalizeHex(h string) string {
	h = strings.ToUpper(strings.TrimSpace(h))
	if h != "" && !strings.HasPrefix(h, "#") {
		h = "#" + h
	}
	if len(h) == 4 {
		// #ABC -> #AABBCC
		h = "#" + strings.Repeat(h[1:2], 2) + strings.Repeat(h[2:3], 2) + strings.Repeat(h[3:4], 2)
	}
	if !hexPattern.MatchString(h) {
		return DefaultNeutralHex
	}
	return h
}

func normalizeRooms(d *domain.DesignDNA) {
	maxFloor := d.Dimensions.Floors - 1
	out := make([]domain.Room, 0, len(d.Rooms))
	for _, r := range d.Rooms {
		r.Name = strings.ToLower(strings.TrimSpace(r.Name))
		if r.Name == "" {
			continue
		}
		if r.Floor < 0 {
			r.Floor = 0
		}
		if r.Floor > maxFloor {
			r.Floor = maxFloor
		}
		r.Area = round2(math.Max(r.Area, 0))
		r.Orientation = strings.ToLower(strings.TrimSpace(r.Orientation))
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Floor != out[j].Floor {
			return out[i].Floor < out[j].Floor
		}
		return out[i].Name < out[j].Name
	})
	d.Rooms = out
}

func normalizeRoof(d *domain.DesignDNA) {
	t, ok := roofTypes[strings.ToLower(strings.TrimSpace(d.Roof.Type))]
	if !ok {
		t = DefaultRoofType
	}
	d.Roof.Type = t
	if t == "flat" {
		d.Roof.Pitch = 0
	} else {
		d.Roof.Pitch = pitchOrDefault(d.Roof.Pitch)
	}
	d.Roof.Material = strings.ToLower(strings.TrimSpace(d.Roof.Material))
	if d.Roof.Material == "" {
		if m, ok := d.MaterialFor("roof"); ok {
			d.Roof.Material = m.Name
		}
	}
}

func normalizeWindows(d *domain.DesignDNA) {
	d.Windows.Pattern = strings.ToLower(strings.TrimSpace(d.Windows.Pattern))
	if d.Windows.Pattern == "" {
		d.Windows.Pattern = DefaultWindowStyle
	}
	d.Windows.Proportion = strings.ToLower(strings.TrimSpace(d.Windows.Proportion))
	if d.Windows.Proportion == "" {
		d.Windows.Proportion = DefaultProportion
	}
	counts := make(map[string]int, len(facades))
	for _, f := range facades {
		n := d.Windows.CountPerFacade[f]
		if n <= 0 {
			n = defaultWindowCount
		}
		counts[f] = n
	}
	d.Windows.CountPerFacade = counts
}

func mergeRules(rules []string) []string {
	out := make([]string, 0, len(rules)+len(StandardRules))
	seen := make(map[string]bool)
	for _, r := range append(append([]string{}, StandardRules...), rules...) {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func dedupeLower(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func isFacade(s string) bool {
	for _, f := range facades {
		if f == s {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
