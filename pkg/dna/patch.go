package dna

import (
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
)

// Aspect は DNA のうちパッチで変更された側面です。
type Aspect string

const (
	AspectMaterials Aspect = "materials"
	AspectRoof      Aspect = "roof"
	AspectWindows   Aspect = "windows"
	AspectFloors    Aspect = "floors"
	AspectRooms     Aspect = "rooms"
)

// Clone は DNA のディープコピーを返します。
func Clone(d *domain.DesignDNA) *domain.DesignDNA {
	c := *d
	c.Materials = append([]domain.Material(nil), d.Materials...)
	c.Rooms = append([]domain.Room(nil), d.Rooms...)
	c.ConsistencyRules = append([]string(nil), d.ConsistencyRules...)
	c.Style.Keywords = append([]string(nil), d.Style.Keywords...)
	if d.Windows.CountPerFacade != nil {
		c.Windows.CountPerFacade = make(map[string]int, len(d.Windows.CountPerFacade))
		for k, v := range d.Windows.CountPerFacade {
			c.Windows.CountPerFacade[k] = v
		}
	}
	return &c
}

// ApplyPatch はパッチを適用した新しい DNA と、実際に変化した側面を返します。
// 元の DNA は変更しません。バージョンは常に1つ進みます。
func ApplyPatch(d *domain.DesignDNA, p *domain.DNAPatch) (*domain.DesignDNA, []Aspect) {
	next := Clone(d)
	next.Version = d.Version + 1
	if p == nil {
		return next, nil
	}

	if len(p.Materials) > 0 {
		byApp := make(map[string]int)
		for i, m := range next.Materials {
			byApp[m.Application] = i
		}
		for _, m := range p.Materials {
			app := strings.ToLower(strings.TrimSpace(m.Application))
			if app == "" {
				app = "walls"
			}
			m.Application = app
			if i, ok := byApp[app]; ok {
				next.Materials[i] = m
			} else {
				next.Materials = append(next.Materials, m)
			}
		}
	}
	if p.Roof != nil {
		roof := mergeRoof(next.Roof, *p.Roof)
		if roof.Type != next.Roof.Type || roof.Pitch != next.Roof.Pitch {
			// 屋根形状が変われば棟高も変わるため Normalize で再計算させます。
			next.Dimensions.Height = 0
		}
		next.Roof = roof
	}
	if p.Windows != nil {
		w := *p.Windows
		if w.Pattern == "" {
			w.Pattern = next.Windows.Pattern
		}
		if w.Proportion == "" {
			w.Proportion = next.Windows.Proportion
		}
		counts := make(map[string]int, len(next.Windows.CountPerFacade))
		for k, v := range next.Windows.CountPerFacade {
			counts[k] = v
		}
		for k, v := range w.CountPerFacade {
			counts[strings.ToLower(k)] = v
		}
		w.CountPerFacade = counts
		next.Windows = w
	}
	if p.Floors != nil && *p.Floors > 0 {
		next.Dimensions.Floors = *p.Floors
		// 高さは Normalize で再計算させます。
		next.Dimensions.Height = 0
		next.Dimensions.TotalArea = 0
	}
	if len(p.RemoveRooms) > 0 {
		remove := make(map[string]bool)
		for _, n := range p.RemoveRooms {
			remove[strings.ToLower(strings.TrimSpace(n))] = true
		}
		kept := next.Rooms[:0:0]
		for _, r := range next.Rooms {
			if !remove[r.Name] {
				kept = append(kept, r)
			}
		}
		next.Rooms = kept
	}
	next.Rooms = append(next.Rooms, p.AddRooms...)

	if p.Floors != nil && *p.Floors > 0 && next.Dimensions.FootprintArea > 0 {
		next.Dimensions.TotalArea = next.Dimensions.FootprintArea * float64(next.Dimensions.Floors)
	}
	Normalize(next, nil)

	return next, diff(d, next)
}

// mergeRoof は空の項目を現在値のまま残して屋根パッチを重ねます。
func mergeRoof(cur, p domain.Roof) domain.Roof {
	if t := strings.ToLower(strings.TrimSpace(p.Type)); t != "" {
		if canon, ok := roofTypes[t]; ok {
			t = canon
		}
		cur.Type = t
	}
	if p.Pitch > 0 {
		cur.Pitch = p.Pitch
	}
	if m := strings.TrimSpace(p.Material); m != "" {
		cur.Material = m
	}
	return cur
}

func diff(a, b *domain.DesignDNA) []Aspect {
	var out []Aspect
	if !sameMaterials(a.Materials, b.Materials) {
		out = append(out, AspectMaterials)
	}
	if a.Roof != b.Roof {
		out = append(out, AspectRoof)
	}
	if !sameWindows(a.Windows, b.Windows) {
		out = append(out, AspectWindows)
	}
	if a.Dimensions.Floors != b.Dimensions.Floors {
		out = append(out, AspectFloors)
	}
	if !sameRooms(a.Rooms, b.Rooms) {
		out = append(out, AspectRooms)
	}
	return out
}

func sameMaterials(a, b []domain.Material) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameRooms(a, b []domain.Room) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameWindows(a, b domain.Windows) bool {
	if a.Pattern != b.Pattern || a.Proportion != b.Proportion || len(a.CountPerFacade) != len(b.CountPerFacade) {
		return false
	}
	for k, v := range a.CountPerFacade {
		if b.CountPerFacade[k] != v {
			return false
		}
	}
	return true
}

// AffectedViews はパッチで変化した側面から再生成が必要なビューを返します。
func AffectedViews(aspects []Aspect, available []domain.View) []domain.View {
	want := make(map[domain.View]bool)
	for _, a := range aspects {
		for _, v := range available {
			if affects(a, v) {
				want[v] = true
			}
		}
	}
	var out []domain.View
	for _, v := range available {
		if want[v] {
			out = append(out, v)
		}
	}
	return out
}

func affects(a Aspect, v domain.View) bool {
	switch a {
	case AspectMaterials:
		// 材料は平面図には描かれない
		return v.Category() != domain.CategoryPlan
	case AspectRoof:
		return v.Category() != domain.CategoryPlan
	case AspectWindows:
		return v.Category() != domain.CategorySection && v.Category() != domain.CategorySite
	case AspectRooms:
		return v.Category() == domain.CategoryPlan || v.Category() == domain.CategorySection || v == domain.ViewInterior3D
	case AspectFloors:
		return true
	}
	return false
}
