package domain

import "time"

// ProgramSpace は建築プログラム (用途ごとの必要諸室) の1項目です。
type ProgramSpace struct {
	Name  string  `json:"name" yaml:"name"`
	Area  float64 `json:"area" yaml:"area"`   // m²
	Floor int     `json:"floor" yaml:"floor"` // 0 = 1階
	Count int     `json:"count" yaml:"count"`
}

// ProjectBrief はユーザーが入力したプロジェクト概要を保持します。
type ProjectBrief struct {
	ProjectName   string         `json:"project_name" yaml:"project_name"`
	Address       string         `json:"address" yaml:"address"`
	BuildingType  string         `json:"building_type" yaml:"building_type"`
	Program       []ProgramSpace `json:"program" yaml:"program"`
	FloorArea     float64        `json:"floor_area" yaml:"floor_area"` // 延床面積 m²
	Floors        int            `json:"floors" yaml:"floors"`
	StyleKeywords []string       `json:"style_keywords" yaml:"style_keywords"`
	PortfolioURLs []string       `json:"portfolio_urls" yaml:"portfolio_urls"` // 作風参照画像
	SiteNotes     string         `json:"site_notes" yaml:"site_notes"`
	Seed          *int64         `json:"seed,omitempty" yaml:"seed,omitempty"` // nil の場合はランダム
}

// Dimensions は建物の外形寸法 (メートル) です。
type Dimensions struct {
	Length        float64 `json:"length"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	FloorHeight   float64 `json:"floor_height"`
	Floors        int     `json:"floors"`
	FootprintArea float64 `json:"footprint_area"`
	TotalArea     float64 `json:"total_area"`
}

// Material は外装・内装材料とその代表色です。
type Material struct {
	Name        string `json:"name"`
	Hex         string `json:"hex"`
	Application string `json:"application"` // "walls", "roof", "windows" など
}

// Room は平面図に描かれる諸室です。
type Room struct {
	Name        string  `json:"name"`
	Floor       int     `json:"floor"`
	Area        float64 `json:"area"`
	Orientation string  `json:"orientation,omitempty"`
}

// Roof は屋根形状の定義です。
type Roof struct {
	Type     string  `json:"type"`
	Pitch    float64 `json:"pitch"` // 度
	Material string  `json:"material"`
}

// Windows は開口部の構成です。立面図間で同じ値を保つ必要があります。
type Windows struct {
	Pattern        string         `json:"pattern"`
	Proportion     string         `json:"proportion"`
	CountPerFacade map[string]int `json:"count_per_facade" yaml:"count_per_facade"` // "north" -> 4
}

// Entrance は主玄関の位置です。
type Entrance struct {
	Facade string `json:"facade"`
}

// Style は意匠の方向性です。
type Style struct {
	Architecture string   `json:"architecture"`
	Keywords     []string `json:"keywords"`
}

// DesignDNA は全ビュー生成の「正」となる設計仕様です。
// LLM の自由記述出力を正規化したものを保持します。
type DesignDNA struct {
	Version          int        `json:"version"`
	Dimensions       Dimensions `json:"dimensions"`
	Materials        []Material `json:"materials"`
	Rooms            []Room     `json:"rooms"`
	Roof             Roof       `json:"roof"`
	Windows          Windows    `json:"windows"`
	Entrance         Entrance   `json:"entrance"`
	Style            Style      `json:"style"`
	ConsistencyRules []string   `json:"consistency_rules"`
	Seed             int64      `json:"seed"` // DB保存等のために広い型を維持
}

// MaterialFor は用途に一致する最初の材料を返します。
func (d *DesignDNA) MaterialFor(application string) (Material, bool) {
	for _, m := range d.Materials {
		if m.Application == application {
			return m, true
		}
	}
	return Material{}, false
}

// RoomsOnFloor は指定階の諸室を返します。
func (d *DesignDNA) RoomsOnFloor(floor int) []Room {
	var rooms []Room
	for _, r := range d.Rooms {
		if r.Floor == floor {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

// DNAPatch は修正ワークフローで DNA に適用する構造化された変更です。
// nil / 空のフィールドは変更しないことを意味します。
type DNAPatch struct {
	Materials   []Material `json:"materials,omitempty" yaml:"materials,omitempty"`
	Roof        *Roof      `json:"roof,omitempty" yaml:"roof,omitempty"`
	Windows     *Windows   `json:"windows,omitempty" yaml:"windows,omitempty"`
	Floors      *int       `json:"floors,omitempty" yaml:"floors,omitempty"`
	AddRooms    []Room     `json:"add_rooms,omitempty" yaml:"add_rooms,omitempty"`
	RemoveRooms []string   `json:"remove_rooms,omitempty" yaml:"remove_rooms,omitempty"`
}

// ModifyRequest は既存シートへの修正要求です。
type ModifyRequest struct {
	DesignID    string    `json:"design_id"`
	Instruction string    `json:"instruction"`
	TargetViews []View    `json:"target_views,omitempty"`
	Patch       *DNAPatch `json:"patch,omitempty"`
	Strict      bool      `json:"strict"` // true の場合、ドリフト時に修正全体を失敗させる
}

// Score はベースラインと候補画像の類似度です。
type Score struct {
	PHash    float64 `json:"phash"`
	SSIM     float64 `json:"ssim"`
	EdgeF1   float64 `json:"edge_f1"`
	Combined float64 `json:"combined"`
	Passed   bool    `json:"passed"`
}

// ViewResult は1ビューの生成結果です。
type ViewResult struct {
	View       View   `json:"view"`
	Prompt     string `json:"prompt"`
	PromptHash string `json:"prompt_hash"`
	Seed       int64  `json:"seed"`
	ImageURI   string `json:"image_uri"`
	Score      *Score `json:"score,omitempty"`
	Attempts   int    `json:"attempts"`
	RolledBack bool   `json:"rolled_back"`
}

// SheetResult は A1 シート1版分の成果物です。
type SheetResult struct {
	DesignID  string       `json:"design_id"`
	Version   int          `json:"version"`
	Note      string       `json:"note,omitempty"`
	Brief     ProjectBrief `json:"brief"`
	DNA       DesignDNA    `json:"dna"`
	Views     []ViewResult `json:"views"`
	SheetURI  string       `json:"sheet_uri"`
	CreatedAt time.Time    `json:"created_at"`
}

// ViewResultFor は指定ビューの結果を返します。
func (s *SheetResult) ViewResultFor(v View) (ViewResult, bool) {
	for _, vr := range s.Views {
		if vr.View == v {
			return vr, true
		}
	}
	return ViewResult{}, false
}
