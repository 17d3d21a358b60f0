package domain

import "fmt"

// View は A1 シートに配置される図面・パースの種類です。
type View string

const (
	ViewGroundFloorPlan View = "floor_plan_ground"
	ViewUpperFloorPlan  View = "floor_plan_upper"
	ViewSitePlan        View = "site_plan"
	ViewElevationNorth  View = "elevation_north"
	ViewElevationSouth  View = "elevation_south"
	ViewElevationEast   View = "elevation_east"
	ViewElevationWest   View = "elevation_west"
	ViewSectionAA       View = "section_aa"
	ViewSectionBB       View = "section_bb"
	ViewExterior3D      View = "exterior_3d"
	ViewAxonometric3D   View = "axonometric_3d"
	ViewInterior3D      View = "interior_3d"
)

// Category はビューの描画系統です。
type Category string

const (
	CategoryPlan      Category = "plan"
	CategorySite      Category = "site"
	CategoryElevation Category = "elevation"
	CategorySection   Category = "section"
	Category3D        Category = "3d"
)

type viewInfo struct {
	category    Category
	title       string
	aspectRatio string
	ordinal     int
}

// 順序はシート上の配置およびシード導出に使われるため変更しないこと。
var views = map[View]viewInfo{
	ViewGroundFloorPlan: {CategoryPlan, "GROUND FLOOR PLAN", "4:3", 0},
	ViewUpperFloorPlan:  {CategoryPlan, "UPPER FLOOR PLAN", "4:3", 1},
	ViewSitePlan:        {CategorySite, "SITE PLAN", "4:3", 2},
	ViewElevationNorth:  {CategoryElevation, "NORTH ELEVATION", "16:9", 3},
	ViewElevationSouth:  {CategoryElevation, "SOUTH ELEVATION", "16:9", 4},
	ViewElevationEast:   {CategoryElevation, "EAST ELEVATION", "16:9", 5},
	ViewElevationWest:   {CategoryElevation, "WEST ELEVATION", "16:9", 6},
	ViewSectionAA:       {CategorySection, "SECTION A-A", "16:9", 7},
	ViewSectionBB:       {CategorySection, "SECTION B-B", "16:9", 8},
	ViewExterior3D:      {Category3D, "EXTERIOR PERSPECTIVE", "4:3", 9},
	ViewAxonometric3D:   {Category3D, "AXONOMETRIC", "1:1", 10},
	ViewInterior3D:      {Category3D, "INTERIOR PERSPECTIVE", "4:3", 11},
}

// AllViews は全ビューを安定した順序で返します。
func AllViews() []View {
	return []View{
		ViewGroundFloorPlan, ViewUpperFloorPlan, ViewSitePlan,
		ViewElevationNorth, ViewElevationSouth, ViewElevationEast, ViewElevationWest,
		ViewSectionAA, ViewSectionBB,
		ViewExterior3D, ViewAxonometric3D, ViewInterior3D,
	}
}

// ViewsFor は階数に応じて必要なビューを返します。平屋では上階平面図を除きます。
func ViewsFor(floors int) []View {
	var out []View
	for _, v := range AllViews() {
		if v == ViewUpperFloorPlan && floors < 2 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ParseView は文字列をビューに変換します。
func ParseView(s string) (View, error) {
	v := View(s)
	if _, ok := views[v]; !ok {
		return "", fmt.Errorf("unknown view: %q", s)
	}
	return v, nil
}

// Valid はビューが既知の値かどうかを返します。
func (v View) Valid() bool {
	_, ok := views[v]
	return ok
}

func (v View) Category() Category { return views[v].category }

func (v View) Title() string { return views[v].title }

func (v View) AspectRatio() string { return views[v].aspectRatio }

// Ordinal はビューの固定番号です。未知のビューは -1 です。
func (v View) Ordinal() int {
	info, ok := views[v]
	if !ok {
		return -1
	}
	return info.ordinal
}

// Technical は正投影の線画 (平面・立面・断面・配置) かどうかを返します。
func (v View) Technical() bool {
	return v.Category() != Category3D
}

// Facade は立面図が表す方位を返します。立面図以外は空文字です。
func (v View) Facade() string {
	switch v {
	case ViewElevationNorth:
		return "north"
	case ViewElevationSouth:
		return "south"
	case ViewElevationEast:
		return "east"
	case ViewElevationWest:
		return "west"
	}
	return ""
}
