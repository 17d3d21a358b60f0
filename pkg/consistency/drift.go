package consistency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"time"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"golang.org/x/sync/errgroup"
)

// Status はビューごとのドリフト判定結果です。
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Pair は比較対象となるビューの画像 URI の組です。
type Pair struct {
	View      domain.View
	Baseline  string
	Candidate string
}

// Loader は画像データを URI から読み込みます。
type Loader interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// ViewReport は1ビュー分の判定結果です。
type ViewReport struct {
	View      domain.View   `json:"view"`
	Status    Status        `json:"status"`
	Baseline  string        `json:"baseline,omitempty"`
	Candidate string        `json:"candidate,omitempty"`
	Score     *domain.Score `json:"score,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Summary はレポート全体の集計です。
type Summary struct {
	Total       int           `json:"total"`
	Checked     int           `json:"checked"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	AvgCombined float64       `json:"avg_combined"`
	MinCombined float64       `json:"min_combined"`
	MaxCombined float64       `json:"max_combined"`
	FailedViews []domain.View `json:"failed_views"`
}

// Report はドリフト検査の結果です。
type Report struct {
	DesignID         string       `json:"design_id,omitempty"`
	BaselineVersion  int          `json:"baseline_version,omitempty"`
	CandidateVersion int          `json:"candidate_version,omitempty"`
	Threshold        float64      `json:"threshold"`
	CheckedAt        time.Time    `json:"checked_at"`
	Views            []ViewReport `json:"views"`
	Summary          Summary      `json:"summary"`
	// AssetErrors は読み込めなかった比較対象の画像です。該当ビューは不合格になります。
	AssetErrors []string `json:"asset_errors,omitempty"`
}

// OK は失敗したビューが無い場合に true を返します。
func (r *Report) OK() bool { return r.Summary.Failed == 0 }

// Save はレポートを JSON として書き出します。
func (r *Report) Save(ctx context.Context, w remoteio.OutputWriter, uri string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("レポートのエンコードに失敗しました: %w", err)
	}
	if err := w.Write(ctx, uri, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("レポートの保存に失敗しました (%s): %w", uri, err)
	}
	return nil
}

// DriftChecker はビューの組を並列に採点します。
type DriftChecker struct {
	scorer      *Scorer
	loader      Loader
	concurrency int
}

// NewDriftChecker は DriftChecker を初期化します。concurrency が 0 以下なら 4 とします。
func NewDriftChecker(scorer *Scorer, loader Loader, concurrency int) (*DriftChecker, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &DriftChecker{scorer: scorer, loader: loader, concurrency: concurrency}, nil
}

// Check は全ての組を採点します。個々のビューの失敗はレポートに記録され、
// コンテキストが終了した場合のみエラーを返します。
func (c *DriftChecker) Check(ctx context.Context, pairs []Pair) (*Report, error) {
	results := make([]ViewReport, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.checkOne(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &Report{
		Threshold: c.scorer.Threshold(),
		CheckedAt: time.Now().UTC(),
		Views:     results,
		Summary:   summarize(results),
	}
	slog.InfoContext(ctx, "ドリフト検査が完了しました",
		"checked", r.Summary.Checked,
		"passed", r.Summary.Passed,
		"failed", r.Summary.Failed,
		"skipped", r.Summary.Skipped,
		"avg", r.Summary.AvgCombined,
	)
	return r, nil
}

func (c *DriftChecker) checkOne(ctx context.Context, p Pair) ViewReport {
	vr := ViewReport{View: p.View, Baseline: p.Baseline, Candidate: p.Candidate}
	if p.Baseline == "" || p.Candidate == "" {
		vr.Status = StatusSkipped
		vr.Error = "missing image"
		return vr
	}

	base, err := c.loader.Get(ctx, p.Baseline)
	if err != nil {
		return loadFailure(vr, "baseline", err)
	}
	cand, err := c.loader.Get(ctx, p.Candidate)
	if err != nil {
		return loadFailure(vr, "candidate", err)
	}

	score, err := c.scorer.ScoreBytes(base, cand)
	if err != nil {
		vr.Status = StatusFailed
		vr.Error = err.Error()
		slog.WarnContext(ctx, "ビューの採点に失敗しました", "view", p.View, "error", err)
		return vr
	}
	vr.Score = &score
	if score.Passed {
		vr.Status = StatusPassed
	} else {
		vr.Status = StatusFailed
	}
	return vr
}

func loadFailure(vr ViewReport, which string, err error) ViewReport {
	vr.Error = fmt.Sprintf("%s: %v", which, err)
	if errors.Is(err, fs.ErrNotExist) {
		vr.Status = StatusSkipped
	} else {
		vr.Status = StatusFailed
	}
	return vr
}

// summarize は採点できなかったビューも検査済みとして数えます。
// スコアの集計は採点できたビューだけで行います。
func summarize(views []ViewReport) Summary {
	s := Summary{Total: len(views), MinCombined: math.Inf(1)}
	var sum float64
	scored := 0
	for _, v := range views {
		if v.Status == StatusSkipped {
			s.Skipped++
			continue
		}
		s.Checked++
		if v.Status != StatusPassed {
			s.Failed++
			s.FailedViews = append(s.FailedViews, v.View)
		}
		if v.Score == nil {
			continue
		}
		scored++
		sum += v.Score.Combined
		s.MinCombined = math.Min(s.MinCombined, v.Score.Combined)
		s.MaxCombined = math.Max(s.MaxCombined, v.Score.Combined)
	}
	s.Passed = s.Checked - s.Failed
	if scored == 0 {
		s.MinCombined = 0
		return s
	}
	s.AvgCombined = round4(sum / float64(scored))
	return s
}
