package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/generator"
	"github.com/shouni/archsheet-kit/pkg/prompt"
	"github.com/shouni/archsheet-kit/pkg/seed"
	"github.com/shouni/archsheet-kit/pkg/sheet"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"golang.org/x/time/rate"
)

// ErrDrift は Strict 指定の修正で、再試行後もしきい値を下回るビューがあったことを示します。
var ErrDrift = errors.New("consistency drift")

// DNAGenerator は ProjectBrief から Design DNA を生成します。
type DNAGenerator interface {
	Generate(ctx context.Context, brief *domain.ProjectBrief) (*domain.DesignDNA, error)
}

// Repository は設計とバージョンの履歴を保存します。
// バージョン1の SaveVersion は設計自体の登録も兼ねます。
type Repository interface {
	SaveVersion(ctx context.Context, r *domain.SheetResult) error
	LatestVersion(ctx context.Context, designID string) (*domain.SheetResult, error)
	GetVersion(ctx context.Context, designID string, version int) (*domain.SheetResult, error)
}

// ArtifactStore は生成画像・シート・レポートの保存先です。
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
	URI(key string) string
	Writer() remoteio.OutputWriter
}

// Dependencies は Pipeline が利用するコンポーネント群です。
type Dependencies struct {
	DNA       DNAGenerator
	Images    generator.ImageGenerator
	Builder   *prompt.Builder
	Scorer    *consistency.Scorer
	Composer  *sheet.Composer
	Repo      Repository
	Artifacts ArtifactStore
	// Assets は任意です。設定されている場合、ポートフォリオ画像を生成の間だけ File API に置きます。
	Assets generator.AssetManager
}

// Config はパイプラインの実行設定です。
type Config struct {
	// MaxRetries はドリフト時の再生成回数です。試行は最大 MaxRetries+1 回になります。
	MaxRetries int
	// GenerateRetries は復号できない応答とビュー単位のタイムアウトに対する再試行回数です。
	// 0 なら1回だけ試行します。
	GenerateRetries uint64
	RetryInterval   time.Duration
	ViewTimeout     time.Duration
	// RequestsPerMinute が 0 以下の場合はペーシングしません。
	RequestsPerMinute int
	Burst             int
	CheckConcurrency  int
	// StrictRegulations は修正後の DNA が建築規則に適合しない場合に修正を拒否します。
	StrictRegulations bool
}

// DefaultConfig は既定の実行設定です。
func DefaultConfig() Config {
	return Config{
		MaxRetries:        2,
		GenerateRetries:   1,
		RetryInterval:     2 * time.Second,
		ViewTimeout:       3 * time.Minute,
		RequestsPerMinute: 10,
		Burst:             1,
		CheckConcurrency:  4,
	}
}

// Pipeline は DNA 生成からシート合成、修正、ドリフト検査までを統括します。
type Pipeline struct {
	dna       DNAGenerator
	images    generator.ImageGenerator
	builder   *prompt.Builder
	scorer    *consistency.Scorer
	checker   *Checker
	composer  *sheet.Composer
	repo      Repository
	artifacts ArtifactStore
	assets    generator.AssetManager
	limiter   *rate.Limiter
	cfg       Config

	newID func() string
	now   func() time.Time
}

// NewPipeline は依存関係を検証して Pipeline を初期化します。
func NewPipeline(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.DNA == nil {
		return nil, fmt.Errorf("DNA generator is required")
	}
	if deps.Images == nil {
		return nil, fmt.Errorf("image generator is required")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if deps.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if deps.Builder == nil {
		deps.Builder = prompt.NewBuilder(nil)
	}
	if deps.Composer == nil {
		deps.Composer = sheet.NewComposer(sheet.Config{})
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	checker, err := NewChecker(deps.Repo, deps.Artifacts, deps.Scorer, cfg.CheckConcurrency)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Pipeline{
		dna:       deps.DNA,
		images:    deps.Images,
		builder:   deps.Builder,
		scorer:    deps.Scorer,
		checker:   checker,
		composer:  deps.Composer,
		repo:      deps.Repo,
		artifacts: deps.Artifacts,
		assets:    deps.Assets,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		cfg:       cfg,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// Generate は新しい設計を作成し、全ビューを生成してバージョン1 (ベースライン) として保存します。
func (p *Pipeline) Generate(ctx context.Context, brief *domain.ProjectBrief) (*domain.SheetResult, error) {
	if brief == nil {
		return nil, fmt.Errorf("brief is required")
	}

	b := *brief
	var base int64
	if b.Seed != nil {
		base = seed.Normalize(*b.Seed)
	} else {
		base = seed.Random()
	}
	b.Seed = &base

	designID := p.newID()
	slog.InfoContext(ctx, "シート生成を開始します", "design_id", designID, "project", b.ProjectName, "seed", base)

	release := p.uploadPortfolio(ctx, b.PortfolioURLs)
	defer release()

	d, err := p.dna.Generate(ctx, &b)
	if err != nil {
		return nil, fmt.Errorf("Design DNA の生成に失敗しました: %w", err)
	}
	d.Seed = base
	d.Version = 1

	views := domain.ViewsFor(d.Dimensions.Floors)
	results := make([]domain.ViewResult, 0, len(views))
	images := make(map[domain.View][]byte, len(views))
	var failed int

	for _, v := range views {
		pr := p.builder.Build(d, v, prompt.Options{})
		vr := domain.ViewResult{
			View:       v,
			Prompt:     pr.Text,
			PromptHash: prompt.Hash(pr),
			Seed:       pr.Seed,
			Attempts:   1,
		}

		data, err := p.generateView(ctx, pr, b.PortfolioURLs)
		if err == nil {
			vr.ImageURI, err = p.putView(ctx, designID, 1, v, data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			slog.WarnContext(ctx, "ビューの生成に失敗しました。空欄として配置します", "view", v, "error", err)
			results = append(results, vr)
			continue
		}
		images[v] = data
		results = append(results, vr)
	}
	if failed == len(views) {
		return nil, fmt.Errorf("全てのビューの生成に失敗しました (design_id=%s)", designID)
	}

	result := &domain.SheetResult{
		DesignID:  designID,
		Version:   1,
		Note:      "initial",
		Brief:     b,
		DNA:       *d,
		Views:     results,
		CreatedAt: p.now().UTC(),
	}
	if err := p.composeAndSave(ctx, result, images); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "シート生成が完了しました",
		"design_id", designID,
		"views", len(views)-failed,
		"failed", failed,
		"sheet", result.SheetURI,
	)
	return result, nil
}

// uploadPortfolio はポートフォリオ画像を File API にアップロードし、削除用の関数を返します。
// DNA 推論と全ビューが同じ画像を参照するため、毎回インラインで送らずに済みます。
// アップロードに失敗した画像はインライン送信にフォールバックします。
func (p *Pipeline) uploadPortfolio(ctx context.Context, urls []string) func() {
	if p.assets == nil || len(urls) == 0 {
		return func() {}
	}

	var uploaded []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, err := p.assets.UploadFile(ctx, u); err != nil {
			slog.WarnContext(ctx, "ポートフォリオ画像のアップロードに失敗しました。インラインで送信します", "url", u, "error", err)
			continue
		}
		uploaded = append(uploaded, u)
	}

	return func() {
		// 生成がキャンセルされた場合も削除は行います
		cleanupCtx := context.WithoutCancel(ctx)
		for _, u := range uploaded {
			if err := p.assets.DeleteFile(cleanupCtx, u); err != nil {
				slog.WarnContext(ctx, "アップロードしたポートフォリオ画像の削除に失敗しました", "url", u, "error", err)
			}
		}
	}
}
