package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/archsheet-kit/pkg/dna"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/prompt"
)

// Modify は最新バージョンに修正を適用し、次のバージョンとして保存します。
//
// 対象ビューはベースラインと同じシードで、ベースライン画像を参照として再生成され、
// ベースラインとの一貫性スコアがしきい値を下回る場合はロック強度を上げて再試行します。
// 再試行後もしきい値を下回るビューはベースラインに戻されます (Strict の場合は ErrDrift)。
func (p *Pipeline) Modify(ctx context.Context, req domain.ModifyRequest) (*domain.SheetResult, error) {
	if req.DesignID == "" {
		return nil, fmt.Errorf("design id is required")
	}
	base, err := p.repo.LatestVersion(ctx, req.DesignID)
	if err != nil {
		return nil, err
	}

	next, aspects := dna.ApplyPatch(&base.DNA, req.Patch)
	if err := dna.Validate(next); err != nil {
		return nil, fmt.Errorf("修正後の DNA が不正です: %w", err)
	}
	findings := dna.CheckRegulations(next)
	if p.cfg.StrictRegulations {
		if err := dna.RegulationError(findings); err != nil {
			return nil, fmt.Errorf("修正後の DNA が建築規則に適合しません: %w", err)
		}
	}
	for _, f := range findings {
		slog.WarnContext(ctx, "建築規則の簡易チェックで指摘があります", "design_id", req.DesignID, "rule", f.Rule, "room", f.Room, "message", f.Message)
	}

	available := domain.ViewsFor(next.Dimensions.Floors)
	targets, err := affectedViews(req, aspects, available)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "修正を開始します",
		"design_id", req.DesignID,
		"base_version", base.Version,
		"aspects", aspects,
		"targets", len(targets),
		"strict", req.Strict,
	)

	version := base.Version + 1
	results := make([]domain.ViewResult, 0, len(available))
	images := make(map[domain.View][]byte)
	var regenerated, reused, rolledBack int

	for _, v := range available {
		prev, hasPrev := base.ViewResultFor(v)
		hasPrev = hasPrev && prev.ImageURI != ""

		if !targets[v] && hasPrev {
			results = append(results, carryOver(prev))
			continue
		}

		vr, data, outcome, err := p.modifyView(ctx, req, next, v, version, prev, hasPrev, base.Brief.PortfolioURLs)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case outcomeReused:
			reused++
		case outcomeRolledBack:
			rolledBack++
		default:
			regenerated++
		}
		if data != nil {
			images[v] = data
		}
		results = append(results, vr)
	}

	note := req.Instruction
	if note == "" {
		note = "patch"
	}
	result := &domain.SheetResult{
		DesignID:  req.DesignID,
		Version:   version,
		Note:      note,
		Brief:     base.Brief,
		DNA:       *next,
		Views:     results,
		CreatedAt: p.now().UTC(),
	}
	if err := p.composeAndSave(ctx, result, images); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "修正が完了しました",
		"design_id", req.DesignID,
		"version", version,
		"regenerated", regenerated,
		"reused", reused,
		"rolled_back", rolledBack,
	)
	return result, nil
}

type outcome int

const (
	outcomeGenerated outcome = iota
	outcomeReused
	outcomeRolledBack
)

// modifyView は1ビューを再生成します。返す data はシート合成用の画像で、
// 再利用・ロールバック時は nil (成果物ストアから読み込む) です。
func (p *Pipeline) modifyView(
	ctx context.Context,
	req domain.ModifyRequest,
	d *domain.DesignDNA,
	v domain.View,
	version int,
	prev domain.ViewResult,
	hasPrev bool,
	portfolio []string,
) (domain.ViewResult, []byte, outcome, error) {
	viewSeed := prompt.SeedFor(d.Seed, v)
	if hasPrev {
		viewSeed = prev.Seed
	}
	build := func(lock int) prompt.Prompt {
		pr := p.builder.Build(d, v, prompt.Options{
			Instruction:  req.Instruction,
			LockStrength: lock,
			HasBaseline:  hasPrev,
		})
		pr.Seed = viewSeed
		return pr
	}

	first := build(0)
	hash := prompt.Hash(first)
	if hasPrev && prev.PromptHash == hash && prev.Seed == viewSeed {
		slog.DebugContext(ctx, "プロンプトとシードが同一のため既存画像を再利用します", "view", v)
		return carryOver(prev), nil, outcomeReused, nil
	}

	// ベースラインが無いビュー (階数の追加など) は比較対象が無いため1回だけ生成します。
	if !hasPrev {
		data, err := p.generateView(ctx, first, portfolio)
		if err != nil {
			return domain.ViewResult{}, nil, 0, fmt.Errorf("ビュー %s の生成に失敗しました: %w", v, err)
		}
		uri, err := p.putView(ctx, req.DesignID, version, v, data)
		if err != nil {
			return domain.ViewResult{}, nil, 0, err
		}
		return domain.ViewResult{
			View: v, Prompt: first.Text, PromptHash: hash, Seed: viewSeed, ImageURI: uri, Attempts: 1,
		}, data, outcomeGenerated, nil
	}

	baseline, err := p.artifacts.Get(ctx, prev.ImageURI)
	if err != nil {
		return domain.ViewResult{}, nil, 0, fmt.Errorf("ビュー %s のベースライン画像を読み込めません: %w", v, err)
	}
	refs := []string{prev.ImageURI}

	var (
		best      domain.Score
		bestData  []byte
		bestPr    prompt.Prompt
		attempts  int
		haveBest  bool
		lastError error
	)
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		attempts++
		pr := build(min(attempt, prompt.MaxLockStrength))

		data, err := p.generateView(ctx, pr, refs)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ViewResult{}, nil, 0, ctx.Err()
			}
			lastError = err
			slog.WarnContext(ctx, "ビューの再生成に失敗しました", "view", v, "attempt", attempts, "error", err)
			continue
		}
		score, err := p.scorer.ScoreBytes(baseline, data)
		if err != nil {
			lastError = err
			slog.WarnContext(ctx, "一貫性スコアを算出できません", "view", v, "attempt", attempts, "error", err)
			continue
		}

		slog.InfoContext(ctx, "一貫性スコア",
			"view", v,
			"attempt", attempts,
			"combined", score.Combined,
			"phash", score.PHash,
			"ssim", score.SSIM,
			"edge_f1", score.EdgeF1,
		)
		if !haveBest || score.Combined > best.Combined {
			best, bestData, bestPr, haveBest = score, data, pr, true
		}
		if score.Passed {
			break
		}
	}

	if haveBest && best.Passed {
		uri, err := p.putView(ctx, req.DesignID, version, v, bestData)
		if err != nil {
			return domain.ViewResult{}, nil, 0, err
		}
		return domain.ViewResult{
			View:       v,
			Prompt:     bestPr.Text,
			PromptHash: prompt.Hash(bestPr),
			Seed:       viewSeed,
			ImageURI:   uri,
			Score:      &best,
			Attempts:   attempts,
		}, bestData, outcomeGenerated, nil
	}

	if req.Strict {
		if !haveBest {
			return domain.ViewResult{}, nil, 0, fmt.Errorf("%w: view %s could not be regenerated: %w", ErrDrift, v, lastError)
		}
		return domain.ViewResult{}, nil, 0, fmt.Errorf("%w: view %s scored %.4f below threshold %.2f after %d attempts",
			ErrDrift, v, best.Combined, p.scorer.Threshold(), attempts)
	}

	rolled := carryOver(prev)
	rolled.RolledBack = true
	rolled.Attempts = attempts
	if haveBest {
		rolled.Score = &best
	}
	slog.WarnContext(ctx, "しきい値を下回ったためベースラインに戻します",
		"view", v,
		"attempts", attempts,
		"best", best.Combined,
		"threshold", p.scorer.Threshold(),
	)
	return rolled, nil, outcomeRolledBack, nil
}

// carryOver は前バージョンのビュー結果を引き継ぎます。採点結果は引き継ぎません。
func carryOver(prev domain.ViewResult) domain.ViewResult {
	vr := prev
	vr.Score = nil
	vr.RolledBack = false
	vr.Attempts = 0
	return vr
}

// affectedViews は再生成対象のビューを決定します。
// パッチで変化した側面に対応するビューと明示指定されたビューの和集合で、
// 指示文のみで対象指定が無い場合は全ビューを対象とします。
func affectedViews(req domain.ModifyRequest, aspects []dna.Aspect, available []domain.View) (map[domain.View]bool, error) {
	avail := make(map[domain.View]bool, len(available))
	for _, v := range available {
		avail[v] = true
	}

	targets := make(map[domain.View]bool)
	for _, v := range dna.AffectedViews(aspects, available) {
		targets[v] = true
	}
	for _, v := range req.TargetViews {
		if !v.Valid() {
			return nil, fmt.Errorf("unknown view: %q", v)
		}
		if !avail[v] {
			return nil, fmt.Errorf("view %s is not part of this design", v)
		}
		targets[v] = true
	}
	if req.Instruction != "" && len(req.TargetViews) == 0 {
		for _, v := range available {
			targets[v] = true
		}
	}
	if len(targets) == 0 && req.Patch == nil && req.Instruction == "" {
		return nil, fmt.Errorf("修正内容がありません (instruction, patch, target_views のいずれかを指定してください)")
	}
	return targets, nil
}
