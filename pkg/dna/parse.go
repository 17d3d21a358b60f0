package dna

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// flexFloat は 12.5 / "12.5" / "12.5m" / "120 m²" のいずれも受け付けます。
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '"' {
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	m := numberPattern.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexFloor は 0 / "1" / "ground" / "first floor" などを階番号 (0 = 1階) に変換します。
type flexFloor int

func (f *flexFloor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '"' {
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexFloor(int(v))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "ground"):
		*f = 0
	case strings.Contains(s, "first"):
		*f = 1
	case strings.Contains(s, "second"):
		*f = 2
	case strings.Contains(s, "third"):
		*f = 3
	case strings.Contains(s, "upper"):
		*f = 1
	default:
		if m := numberPattern.FindString(s); m != "" {
			v, _ := strconv.Atoi(strings.SplitN(m, ".", 2)[0])
			*f = flexFloor(v)
		}
	}
	return nil
}

type rawMaterial struct {
	Name        string `json:"name"`
	Hex         string `json:"hex"`
	Color       string `json:"color"`
	Application string `json:"application"`
	Use         string `json:"use"`
}

// UnmarshalJSON は "red brick" のような文字列だけの材料表記も受け付けます。
func (m *rawMaterial) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &m.Name)
	}
	type alias rawMaterial
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*m = rawMaterial(a)
	return nil
}

type rawDNA struct {
	Dimensions struct {
		Length        flexFloat `json:"length"`
		Width         flexFloat `json:"width"`
		Depth         flexFloat `json:"depth"`
		Height        flexFloat `json:"height"`
		FloorHeight   flexFloat `json:"floor_height"`
		Floors        flexFloat `json:"floors"`
		FloorCount    flexFloat `json:"floor_count"`
		FootprintArea flexFloat `json:"footprint_area"`
		TotalArea     flexFloat `json:"total_area"`
	} `json:"dimensions"`
	Materials []rawMaterial `json:"materials"`
	Rooms     []struct {
		Name        string    `json:"name"`
		Floor       flexFloor `json:"floor"`
		Area        flexFloat `json:"area"`
		Orientation string    `json:"orientation"`
	} `json:"rooms"`
	Roof struct {
		Type     string    `json:"type"`
		Pitch    flexFloat `json:"pitch"`
		Material string    `json:"material"`
	} `json:"roof"`
	Windows struct {
		Pattern        string               `json:"pattern"`
		Proportion     string               `json:"proportion"`
		CountPerFacade map[string]flexFloat `json:"count_per_facade"`
	} `json:"windows"`
	Entrance struct {
		Facade string `json:"facade"`
	} `json:"entrance"`
	Style struct {
		Architecture string   `json:"architecture"`
		Keywords     []string `json:"keywords"`
	} `json:"style"`
	ConsistencyRules []string `json:"consistency_rules"`
}

// ErrDecode は抽出した JSON を DNA として解釈できなかったことを示します。
var ErrDecode = errors.New("DNA JSON のデコードに失敗しました")

// Decode は JSON を寛容にデコードし、正規化前の DesignDNA に変換します。
func Decode(data []byte) (*domain.DesignDNA, error) {
	var raw rawDNA
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	d := &domain.DesignDNA{
		Dimensions: domain.Dimensions{
			Length:        float64(raw.Dimensions.Length),
			Width:         float64(raw.Dimensions.Width),
			Height:        float64(raw.Dimensions.Height),
			FloorHeight:   float64(raw.Dimensions.FloorHeight),
			Floors:        int(raw.Dimensions.Floors),
			FootprintArea: float64(raw.Dimensions.FootprintArea),
			TotalArea:     float64(raw.Dimensions.TotalArea),
		},
		Roof: domain.Roof{
			Type:     raw.Roof.Type,
			Pitch:    float64(raw.Roof.Pitch),
			Material: raw.Roof.Material,
		},
		Windows: domain.Windows{
			Pattern:    raw.Windows.Pattern,
			Proportion: raw.Windows.Proportion,
		},
		Entrance:         domain.Entrance{Facade: raw.Entrance.Facade},
		Style:            domain.Style{Architecture: raw.Style.Architecture, Keywords: raw.Style.Keywords},
		ConsistencyRules: raw.ConsistencyRules,
	}
	if d.Dimensions.Width == 0 {
		d.Dimensions.Width = float64(raw.Dimensions.Depth)
	}
	if d.Dimensions.Floors == 0 {
		d.Dimensions.Floors = int(raw.Dimensions.FloorCount)
	}

	for _, m := range raw.Materials {
		hex := m.Hex
		if hex == "" {
			hex = m.Color
		}
		app := m.Application
		if app == "" {
			app = m.Use
		}
		d.Materials = append(d.Materials, domain.Material{Name: m.Name, Hex: hex, Application: app})
	}
	for _, r := range raw.Rooms {
		d.Rooms = append(d.Rooms, domain.Room{
			Name:        r.Name,
			Floor:       int(r.Floor),
			Area:        float64(r.Area),
			Orientation: r.Orientation,
		})
	}
	if len(raw.Windows.CountPerFacade) > 0 {
		d.Windows.CountPerFacade = make(map[string]int, len(raw.Windows.CountPerFacade))
		for k, v := range raw.Windows.CountPerFacade {
			d.Windows.CountPerFacade[strings.ToLower(strings.TrimSpace(k))] = int(v)
		}
	}
	return d, nil
}

// Parse は LLM の出力テキストから JSON を抽出し、デコード・正規化・検証まで行います。
func Parse(text string, brief *domain.ProjectBrief) (*domain.DesignDNA, error) {
	data, err := Extract(text)
	if err != nil {
		return nil, err
	}
	d, err := Decode(data)
	if err != nil {
		return nil, err
	}
	Normalize(d, brief)
	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}
