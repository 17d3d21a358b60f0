package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shouni/archsheet-kit/internal/config"
	"github.com/shouni/archsheet-kit/pkg/artifact"
	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/dna"
	"github.com/shouni/archsheet-kit/pkg/generator"
	"github.com/shouni/archsheet-kit/pkg/prompt"
	"github.com/shouni/archsheet-kit/pkg/sheet"
	"github.com/shouni/archsheet-kit/pkg/store"
	"github.com/shouni/archsheet-kit/pkg/workflow"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
)

// app はコマンド間で共有する依存関係です。
type app struct {
	repo      *store.SQLiteStore
	artifacts *artifact.Store
	scorer    *consistency.Scorer
	checker   *workflow.Checker
	// pipeline は withAI 指定時のみ初期化されます。
	pipeline *workflow.Pipeline
}

// openApp は履歴 DB と成果物ストアを開き、必要に応じて Gemini を使うパイプラインを組み立てます。
func openApp(ctx context.Context, cfg *config.Config, withAI bool) (*app, error) {
	a := &app{}
	if err := a.init(ctx, cfg, withAI); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, cfg *config.Config, withAI bool) error {
	var err error
	if a.repo, err = store.NewSQLiteStore(cfg.Storage.DatabasePath); err != nil {
		return err
	}
	if a.artifacts, err = artifact.Open(ctx, cfg.Storage.ArtifactRoot); err != nil {
		return err
	}
	if a.scorer, err = newScorer(cfg); err != nil {
		return err
	}
	if a.checker, err = workflow.NewChecker(a.repo, a.artifacts, a.scorer, cfg.Consistency.Concurrency); err != nil {
		return err
	}
	if !withAI {
		return nil
	}
	a.pipeline, err = newPipeline(ctx, cfg, a)
	return err
}

func newScorer(cfg *config.Config) (*consistency.Scorer, error) {
	return consistency.NewScorer(consistency.ScorerConfig{
		Weights:       cfg.Consistency.Weights,
		Threshold:     cfg.Consistency.Threshold,
		SSIMSize:      cfg.Consistency.SSIMSize,
		EdgeTolerance: cfg.Consistency.EdgeTolerance,
	})
}

func newPipeline(ctx context.Context, cfg *config.Config, a *app) (*workflow.Pipeline, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	temperature := cfg.Gemini.Temperature
	ai, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:       cfg.Gemini.APIKey,
		Temperature:  &temperature,
		MaxRetries:   cfg.Gemini.MaxRetries,
		InitialDelay: cfg.Gemini.InitialDelay,
		MaxDelay:     cfg.Gemini.MaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini クライアントの初期化に失敗しました: %w", err)
	}

	httpClient := httpkit.New(cfg.Gemini.HTTPTimeout,
		httpkit.WithMaxRetries(cfg.Gemini.MaxRetries),
		httpkit.WithInitialInterval(cfg.Gemini.InitialDelay),
		httpkit.WithMaxInterval(cfg.Gemini.MaxDelay),
	)

	// ローカルの成果物ストアを使う場合、前バージョンの画像はローカルパスで参照されます
	allowLocal := cfg.Storage.AllowLocalFiles || !remoteio.IsRemoteURI(cfg.Storage.ArtifactRoot)
	core, err := generator.NewGeminiImageCore(
		ai,
		a.artifacts.Reader(),
		httpClient,
		generator.NewImageCache(cfg.Storage.CacheTTL),
		cfg.Storage.CacheTTL,
		generator.WithLocalFiles(allowLocal),
	)
	if err != nil {
		return nil, err
	}
	gen, err := generator.NewGeminiGenerator(core, ai, cfg.Gemini.ImageModel, cfg.Gemini.TextModel)
	if err != nil {
		return nil, err
	}
	var dnaOpts []dna.Option
	if cfg.Generation.StrictRegulations {
		dnaOpts = append(dnaOpts, dna.WithStrictRegulations())
	}
	dnaGen, err := dna.NewGenerator(gen, cfg.Generation.DNAMaxRetries, cfg.Gemini.InitialDelay, dnaOpts...)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "パイプラインを初期化しました",
		"text_model", cfg.Gemini.TextModel,
		"image_model", cfg.Gemini.ImageModel,
		"artifact_root", a.artifacts.Root(),
		"allow_local_files", allowLocal,
	)

	return workflow.NewPipeline(workflow.Dependencies{
		DNA:       dnaGen,
		Images:    gen,
		Builder:   prompt.NewBuilder(cfg.AspectRatioOverrides()),
		Scorer:    a.scorer,
		Composer:  sheet.NewComposer(cfg.Sheet),
		Repo:      a.repo,
		Artifacts: a.artifacts,
		Assets:    core,
	}, workflow.Config{
		MaxRetries:        cfg.Consistency.MaxRetries,
		GenerateRetries:   cfg.Generation.ViewRetries,
		RetryInterval:     cfg.Generation.RetryInterval,
		ViewTimeout:       cfg.Generation.ViewTimeout,
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
		Burst:             cfg.Generation.Burst,
		CheckConcurrency:  cfg.Consistency.Concurrency,
		StrictRegulations: cfg.Generation.StrictRegulations,
	})
}

// Close は開いたリソースを解放します。
func (a *app) Close() error {
	var errs []error
	if a.artifacts != nil {
		errs = append(errs, a.artifacts.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}
