package dna

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
)

// 英国建築規則 (住宅) に基づく簡易チェックの基準値です。
const (
	MinGlazingRatio = 0.10
	// assumedWindowArea は DNA に窓寸法が無いため 1.0m x 1.5m の窓を仮定した面積です。
	assumedWindowArea = 1.5
)

var minRoomAreas = map[string]float64{
	"single_bedroom": 6.5,
	"double_bedroom": 11.0,
	"living_room":    13.0,
	"kitchen":        5.5,
	"bathroom":       2.5,
	"wc":             1.5,
}

// Rule は Finding の種別です。
type Rule string

const (
	RuleMinRoomArea  Rule = "min_room_area"
	RuleGlazingRatio Rule = "glazing_ratio"
)

// Finding は建築規則チェックで見つかった不適合です。Room が空なら建物全体に対する指摘です。
type Finding struct {
	Rule    Rule   `json:"rule"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

// CheckRegulations は諸室の最小面積と居室の採光 (床面積の10%以上の窓面積) を検査します。
// 結果は決定的な順序 (諸室の並び順、建物全体の指摘は最後) で返します。
func CheckRegulations(d *domain.DesignDNA) []Finding {
	var out []Finding

	for _, r := range d.Rooms {
		kind := classifyRoom(r.Name)
		if least := minRoomArea(kind, r.Name); least > 0 && r.Area < least {
			out = append(out, Finding{
				Rule:    RuleMinRoomArea,
				Room:    r.Name,
				Message: fmt.Sprintf("room %q (%s) area %.1fm² is below the minimum %.1fm²", r.Name, kind, r.Area, least),
			})
		}
	}

	floors := max(d.Dimensions.Floors, 1)
	// 同じ階・同じ面に向く居室で、その面の1階分の窓を分け合います。
	sharers := make(map[string]int)
	for _, r := range d.Rooms {
		if isHabitable(r.Name) && r.Orientation != "" {
			sharers[facadeKey(r)]++
		}
	}
	var habitable float64
	for _, r := range d.Rooms {
		if !isHabitable(r.Name) {
			continue
		}
		habitable += r.Area
		if r.Orientation == "" {
			continue
		}
		perFloor := float64(d.Windows.CountPerFacade[r.Orientation]) / float64(floors)
		glazing := perFloor / float64(sharers[facadeKey(r)]) * assumedWindowArea
		if need := r.Area * MinGlazingRatio; glazing < need {
			out = append(out, Finding{
				Rule:    RuleGlazingRatio,
				Room:    r.Name,
				Message: fmt.Sprintf("room %q window area %.2fm² is below the minimum %.2fm² (%.0f%% of floor area)", r.Name, glazing, need, MinGlazingRatio*100),
			})
		}
	}

	var windows int
	for _, n := range d.Windows.CountPerFacade {
		windows += n
	}
	glazing := float64(windows) * assumedWindowArea
	if need := habitable * MinGlazingRatio; habitable > 0 && glazing < need {
		out = append(out, Finding{
			Rule:    RuleGlazingRatio,
			Message: fmt.Sprintf("total window area %.2fm² is below %.2fm² (%.0f%% of habitable floor area)", glazing, need, MinGlazingRatio*100),
		})
	}
	return out
}

// RegulationError は Finding をまとめて ErrInvalid を包んだエラーにします。findings が空なら nil です。
func RegulationError(findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	errs := make([]error, 0, len(findings))
	for _, f := range findings {
		errs = append(errs, errors.New(f.Message))
	}
	return fmt.Errorf("%w: building regulations: %w", ErrInvalid, errors.Join(errs...))
}

func facadeKey(r domain.Room) string {
	return fmt.Sprintf("%d/%s", r.Floor, r.Orientation)
}

func classifyRoom(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "bed"):
		return "bedroom"
	case strings.Contains(n, "living"), strings.Contains(n, "lounge"):
		return "living_room"
	case strings.Contains(n, "kitchen"):
		return "kitchen"
	case strings.Contains(n, "bath"):
		return "bathroom"
	case strings.Contains(n, "wc"), strings.Contains(n, "toilet"):
		return "wc"
	case strings.Contains(n, "hallway"), strings.Contains(n, "corridor"):
		return "corridor"
	case strings.Contains(n, "dining"):
		return "dining"
	case strings.Contains(n, "study"), strings.Contains(n, "office"):
		return "study"
	case strings.Contains(n, "storage"), strings.Contains(n, "utility"):
		return "utility"
	case strings.Contains(n, "entrance"):
		return "entrance"
	}
	return "other"
}

func minRoomArea(kind, name string) float64 {
	if kind == "bedroom" {
		n := strings.ToLower(name)
		if strings.Contains(n, "master") || strings.Contains(n, "double") {
			return minRoomAreas["double_bedroom"]
		}
		return minRoomAreas["single_bedroom"]
	}
	return minRoomAreas[kind]
}

func isHabitable(name string) bool {
	switch classifyRoom(name) {
	case "bedroom", "living_room", "kitchen", "dining", "study":
		return true
	}
	return false
}
