package consistency

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/imgutil"
)

const (
	DefaultThreshold     = 0.80
	DefaultSSIMSize      = 256
	DefaultEdgeTolerance = 3
	// エッジ照合は SSIM と同じ作業解像度で行います
	edgeCompareSize = 256
)

// Weights は各指標の重みです。合計は 1 でなくても構いません。
type Weights struct {
	PHash float64 `yaml:"phash"`
	SSIM  float64 `yaml:"ssim"`
	Edge  float64 `yaml:"edge"`
}

// DefaultWeights は SSIM を重視した既定の重みです。
func DefaultWeights() Weights {
	return Weights{PHash: 0.3, SSIM: 0.5, Edge: 0.2}
}

func (w Weights) sum() float64 { return w.PHash + w.SSIM + w.Edge }

// ScorerConfig は Scorer の設定です。ゼロ値の項目は既定値で補完されます。
type ScorerConfig struct {
	Weights       Weights
	Threshold     float64
	SSIMSize      int
	EdgeTolerance int
}

// Scorer はベースラインと候補画像の一貫性スコアを計算します。
type Scorer struct {
	weights       Weights
	threshold     float64
	ssimSize      int
	edgeTolerance int
}

// NewScorer は Scorer を初期化します。
func NewScorer(cfg ScorerConfig) (*Scorer, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Weights.PHash < 0 || cfg.Weights.SSIM < 0 || cfg.Weights.Edge < 0 || cfg.Weights.sum() <= 0 {
		return nil, fmt.Errorf("weights must be non-negative with a positive sum: %+v", cfg.Weights)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be within 0..1, got %v", cfg.Threshold)
	}
	if cfg.SSIMSize == 0 {
		cfg.SSIMSize = DefaultSSIMSize
	}
	if cfg.SSIMSize < ssimWindow {
		return nil, fmt.Errorf("ssim size must be at least %d", ssimWindow)
	}
	if cfg.EdgeTolerance == 0 {
		cfg.EdgeTolerance = DefaultEdgeTolerance
	}
	if cfg.EdgeTolerance < 0 {
		return nil, errors.New("edge tolerance must not be negative")
	}
	return &Scorer{
		weights:       cfg.Weights,
		threshold:     cfg.Threshold,
		ssimSize:      cfg.SSIMSize,
		edgeTolerance: cfg.EdgeTolerance,
	}, nil
}

// Threshold は合格判定のしきい値です。
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score は2画像のスコアを計算します。サイズが異なる画像も作業解像度に揃えて比較します。
func (s *Scorer) Score(baseline, candidate image.Image) (domain.Score, error) {
	var out domain.Score

	p, err := PerceptualSimilarity(baseline, candidate)
	if err != nil {
		return out, err
	}
	ss, err := SSIM(baseline, candidate, s.ssimSize)
	if err != nil {
		return out, err
	}
	em, err := edgeF1(
		imgutil.GrayAt(baseline, edgeCompareSize, edgeCompareSize),
		imgutil.GrayAt(candidate, edgeCompareSize, edgeCompareSize),
		s.edgeTolerance, imgutil.DefaultEdgeThreshold,
	)
	if err != nil {
		return out, err
	}

	out.PHash = round4(p)
	out.SSIM = round4(clamp01(ss))
	out.EdgeF1 = round4(em.F1)
	combined := (s.weights.PHash*p + s.weights.SSIM*clamp01(ss) + s.weights.Edge*em.F1) / s.weights.sum()
	out.Combined = round4(combined)
	out.Passed = out.Combined >= s.threshold
	return out, nil
}

// ScoreBytes はエンコード済み画像データ同士のスコアを計算します。
func (s *Scorer) ScoreBytes(baseline, candidate []byte) (domain.Score, error) {
	a, err := imgutil.Decode(baseline)
	if err != nil {
		return domain.Score{}, fmt.Errorf("baseline: %w", err)
	}
	b, err := imgutil.Decode(candidate)
	if err != nil {
		return domain.Score{}, fmt.Errorf("candidate: %w", err)
	}
	return s.Score(a, b)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
