package dna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/netarmor/retry"
)

// TextModel は DNA 推論に使う LLM の抽象です。
type TextModel interface {
	GenerateText(ctx context.Context, systemPrompt, prompt string, imageURLs []string) (string, error)
}

// SystemPrompt は DNA 推論時に LLM へ渡すシステムプロンプトです。
const SystemPrompt = `You are a senior architect producing a canonical "Design DNA" for a building.
Respond with ONE JSON object only, no commentary, using this shape:
{
  "dimensions": {"length": m, "width": m, "height": m, "floor_height": m, "floors": n, "footprint_area": m2, "total_area": m2},
  "materials": [{"name": "", "hex": "#RRGGBB", "application": "walls|roof|windows|doors|trim|ground"}],
  "rooms": [{"name": "", "floor": 0, "area": m2, "orientation": "north|south|east|west"}],
  "roof": {"type": "gable|hip|flat|mono-pitch", "pitch": degrees, "material": ""},
  "windows": {"pattern": "", "proportion": "", "count_per_facade": {"north": n, "south": n, "east": n, "west": n}},
  "entrance": {"facade": "north|south|east|west"},
  "style": {"architecture": "", "keywords": []},
  "consistency_rules": []
}
Floors are numbered from 0 (ground floor). Every value must be concrete and buildable.`

// Generator は ProjectBrief から LLM を使って DesignDNA を生成します。
type Generator struct {
	model             TextModel
	retryConfig       retry.Config
	strictRegulations bool
}

// Option は Generator の任意設定です。
type Option func(*Generator)

// WithStrictRegulations は建築規則の不適合を検証エラーとして扱い、指摘を添えて再試行させます。
// 指定しない場合、不適合は警告ログにとどめます。
func WithStrictRegulations() Option {
	return func(g *Generator) {
		g.strictRegulations = true
	}
}

// NewGenerator は依存関係を注入して Generator を初期化します。
// maxRetries は解析・検証に失敗した場合の再試行回数です。0 なら再試行しません。
func NewGenerator(model TextModel, maxRetries uint64, initialInterval time.Duration, opts ...Option) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("model (TextModel) is required")
	}
	g := &Generator{
		model: model,
		retryConfig: retry.Config{
			MaxRetries:      maxRetries,
			InitialInterval: initialInterval,
			MaxInterval:     initialInterval * 4,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate は DNA を生成します。JSON の抽出や検証に失敗した場合は、
// エラー内容をフィードバックしたうえで再試行します。
func (g *Generator) Generate(ctx context.Context, brief *domain.ProjectBrief) (*domain.DesignDNA, error) {
	basePrompt := BriefPrompt(brief)
	prompt := basePrompt
	attempt := 0

	var result *domain.DesignDNA
	op := func() error {
		attempt++
		text, err := g.model.GenerateText(ctx, SystemPrompt, prompt, brief.PortfolioURLs)
		if err != nil {
			return err
		}
		d, err := Parse(text, brief)
		if err == nil && g.strictRegulations {
			err = RegulationError(CheckRegulations(d))
		}
		if err != nil {
			slog.WarnContext(ctx, "DNA の解析に失敗しました。再試行します", "attempt", attempt, "error", err)
			prompt = basePrompt + "\n\nYour previous answer was rejected: " + err.Error() + "\nReturn a corrected JSON object only."
			return err
		}
		result = d
		return nil
	}

	if g.retryConfig.MaxRetries == 0 {
		if err := op(); err != nil {
			return nil, err
		}
	} else if err := retry.Do(ctx, g.retryConfig, "Design DNA 生成", op, isParseError); err != nil {
		return nil, err
	}

	for _, f := range CheckRegulations(result) {
		slog.WarnContext(ctx, "建築規則の簡易チェックで指摘があります", "rule", f.Rule, "room", f.Room, "message", f.Message)
	}
	slog.InfoContext(ctx, "Design DNA を生成しました",
		"attempts", attempt,
		"floors", result.Dimensions.Floors,
		"materials", len(result.Materials),
		"rooms", len(result.Rooms),
		"fingerprint", Fingerprint(result)[:12],
	)
	return result, nil
}

// isParseError はモデル出力の不備による失敗のみを再試行対象にします。
// API エラーはクライアント側で既に再試行されています。
func isParseError(err error) bool {
	return errors.Is(err, ErrNoJSONObject) || errors.Is(err, ErrDecode) || errors.Is(err, ErrInvalid)
}

// BriefPrompt は ProjectBrief を LLM 向けのテキストに変換します。
func BriefPrompt(b *domain.ProjectBrief) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\n", b.ProjectName)
	fmt.Fprintf(&sb, "Address: %s\n", b.Address)
	fmt.Fprintf(&sb, "Building type: %s\n", b.BuildingType)
	if b.FloorArea > 0 {
		fmt.Fprintf(&sb, "Target gross floor area: %.0f m2\n", b.FloorArea)
	}
	if b.Floors > 0 {
		fmt.Fprintf(&sb, "Floors: %d\n", b.Floors)
	}
	if len(b.Program) > 0 {
		sb.WriteString("Program:\n")
		for _, p := range b.Program {
			count := p.Count
			if count <= 0 {
				count = 1
			}
			fmt.Fprintf(&sb, "- %s x%d, %.0f m2, floor %d\n", p.Name, count, p.Area, p.Floor)
		}
	}
	if len(b.StyleKeywords) > 0 {
		fmt.Fprintf(&sb, "Style: %s\n", strings.Join(b.StyleKeywords, ", "))
	}
	if b.SiteNotes != "" {
		fmt.Fprintf(&sb, "Site: %s\n", b.SiteNotes)
	}
	if len(b.PortfolioURLs) > 0 {
		sb.WriteString("The attached images are the architect's portfolio; match their material palette and massing language.\n")
	}
	return sb.String()
}
