package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/archsheet-kit/pkg/artifact"
	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/domain"
)

// BaselineVersion はドリフト検査の基準となるバージョンです。
const BaselineVersion = 1

// Checker は保存済みバージョンをベースラインと比較します。画像生成を必要としません。
type Checker struct {
	repo        Repository
	artifacts   ArtifactStore
	scorer      *consistency.Scorer
	concurrency int
}

// NewChecker は Checker を初期化します。
func NewChecker(repo Repository, artifacts ArtifactStore, scorer *consistency.Scorer, concurrency int) (*Checker, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	return &Checker{repo: repo, artifacts: artifacts, scorer: scorer, concurrency: concurrency}, nil
}

// Check は指定バージョンをベースライン (バージョン1) と比較したドリフトレポートを作成し、保存します。
// version が 0 以下の場合は最新バージョンを検査します。
func (c *Checker) Check(ctx context.Context, designID string, version int) (*consistency.Report, error) {
	var (
		candidate *domain.SheetResult
		err       error
	)
	if version <= 0 {
		candidate, err = c.repo.LatestVersion(ctx, designID)
	} else {
		candidate, err = c.repo.GetVersion(ctx, designID, version)
	}
	if err != nil {
		return nil, err
	}
	baseline, err := c.repo.GetVersion(ctx, designID, BaselineVersion)
	if err != nil {
		return nil, err
	}

	pairs := pairsFor(baseline, candidate)
	assets, err := artifact.Validate(ctx, c.artifacts, assetsFor(pairs))
	if err != nil {
		return nil, err
	}
	if !assets.Passed {
		slog.WarnContext(ctx, "比較対象の画像が欠けています。該当ビューは不合格として扱います",
			"design_id", designID, "missing", len(assets.Errors))
	}

	// 検証で読み込んだ画像をそのまま採点に使います。
	drift, err := consistency.NewDriftChecker(c.scorer, assets, c.concurrency)
	if err != nil {
		return nil, fmt.Errorf("ドリフト検査の初期化に失敗しました: %w", err)
	}
	report, err := drift.Check(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("ドリフト検査に失敗しました: %w", err)
	}
	report.AssetErrors = assets.Errors
	report.DesignID = designID
	report.BaselineVersion = baseline.Version
	report.CandidateVersion = candidate.Version

	uri := c.artifacts.URI(artifact.ReportKey(designID, candidate.Version))
	if err := report.Save(ctx, c.artifacts.Writer(), uri); err != nil {
		return nil, err
	}
	return report, nil
}

// Check は Checker に委譲します。
func (p *Pipeline) Check(ctx context.Context, designID string, version int) (*consistency.Report, error) {
	return p.checker.Check(ctx, designID, version)
}

// assetsFor は比較に必要な画像を列挙します。空 URI の組はスキップされるため対象外です。
func assetsFor(pairs []consistency.Pair) []artifact.Asset {
	var assets []artifact.Asset
	for _, p := range pairs {
		if p.Baseline == "" || p.Candidate == "" {
			continue
		}
		assets = append(assets,
			artifact.Asset{Label: "baseline " + p.View.Title(), URI: p.Baseline, Required: true},
			artifact.Asset{Label: "candidate " + p.View.Title(), URI: p.Candidate, Required: true},
		)
	}
	return assets
}

// pairsFor は両バージョンのビューを突き合わせます。片方にしか無いビューは空 URI となりスキップされます。
func pairsFor(baseline, candidate *domain.SheetResult) []consistency.Pair {
	var pairs []consistency.Pair
	for _, v := range domain.AllViews() {
		b, hasB := baseline.ViewResultFor(v)
		c, hasC := candidate.ViewResultFor(v)
		if !hasB && !hasC {
			continue
		}
		pairs = append(pairs, consistency.Pair{View: v, Baseline: b.ImageURI, Candidate: c.ImageURI})
	}
	return pairs
}
