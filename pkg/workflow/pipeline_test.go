package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shouni/archsheet-kit/pkg/artifact"
	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/dna"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/prompt"
	"github.com/shouni/archsheet-kit/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewPipeline(t *testing.T) {
	scorer, err := consistency.NewScorer(consistency.ScorerConfig{})
	require.NoError(t, err)
	full := Dependencies{
		DNA:       &mockDNA{},
		Images:    &mockImages{},
		Scorer:    scorer,
		Repo:      newMemRepo(),
		Artifacts: newMemArtifacts(),
	}

	t.Run("nilチェック: 必須の依存関係が足りない場合はエラー", func(t *testing.T) {
		for _, mutate := range []func(d *Dependencies){
			func(d *Dependencies) { d.DNA = nil },
			func(d *Dependencies) { d.Images = nil },
			func(d *Dependencies) { d.Scorer = nil },
			func(d *Dependencies) { d.Repo = nil },
			func(d *Dependencies) { d.Artifacts = nil },
		} {
			deps := full
			mutate(&deps)
			_, err := NewPipeline(deps, DefaultConfig())
			assert.Error(t, err)
		}
	})

	t.Run("Builder と Composer は省略できる", func(t *testing.T) {
		p, err := NewPipeline(full, DefaultConfig())
		require.NoError(t, err)
		assert.NotNil(t, p.builder)
		assert.NotNil(t, p.composer)
	})
}

func TestPipeline_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("成功: 全ビューを生成してバージョン1を保存する", func(t *testing.T) {
		f := newFixture(t)
		brief := &domain.ProjectBrief{
			ProjectName:   "Riverside House",
			PortfolioURLs: []string{"gs://portfolio/a.jpg"},
			Seed:          domain.SeedPtr(12345),
		}

		res, err := f.p.Generate(ctx, brief)
		require.NoError(t, err)

		assert.Equal(t, "design-1", res.DesignID)
		assert.Equal(t, 1, res.Version)
		assert.Equal(t, int64(12345), res.DNA.Seed)
		assert.Equal(t, fixedNow, res.CreatedAt)
		require.Len(t, res.Views, len(domain.ViewsFor(2)))

		for _, vr := range res.Views {
			assert.Equal(t, prompt.SeedFor(12345, vr.View), vr.Seed, "view %s", vr.View)
			assert.Equal(t, "mem://"+artifact.ViewKey("design-1", 1, string(vr.View)), vr.ImageURI)
			assert.True(t, f.art.has(vr.ImageURI))
			assert.NotEmpty(t, vr.PromptHash)
			assert.Equal(t, 1, vr.Attempts)
		}
		assert.Equal(t, "mem://"+artifact.SheetKey("design-1", 1), res.SheetURI)
		assert.True(t, f.art.has(res.SheetURI))
		assert.Equal(t, 1, f.repo.count("design-1"))

		// ポートフォリオが参照画像として渡され、シードはビューごとに固定される
		calls := f.images.calls()
		require.Len(t, calls, len(res.Views))
		for i, req := range calls {
			assert.Equal(t, []string{"gs://portfolio/a.jpg"}, req.ReferenceURLs)
			assert.Equal(t, res.Views[i].Seed, *req.Seed)
			assert.Contains(t, req.NegativePrompt, "blurry")
		}

		// DNA 生成には正規化済みのシードが渡される
		require.Len(t, f.dna.briefs, 1)
		assert.Equal(t, int64(12345), *f.dna.briefs[0].Seed)
	})

	t.Run("シード未指定の場合はランダムなベースシードを使う", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.p.Generate(ctx, &domain.ProjectBrief{ProjectName: "No Seed"})
		require.NoError(t, err)
		assert.Positive(t, res.DNA.Seed)
		require.NotNil(t, res.Brief.Seed)
		assert.Equal(t, res.DNA.Seed, *res.Brief.Seed)
	})

	t.Run("一部のビューが失敗しても空欄として続行する", func(t *testing.T) {
		f := newFixture(t)
		ok := split(t, true)
		f.images.respond = func(req domain.ImageGenerationRequest) ([]byte, error) {
			if strings.Contains(req.Prompt, domain.ViewSitePlan.Title()) {
				return nil, errors.New("quota exceeded")
			}
			return ok, nil
		}

		res, err := f.p.Generate(ctx, &domain.ProjectBrief{ProjectName: "Partial"})
		require.NoError(t, err)

		site, found := res.ViewResultFor(domain.ViewSitePlan)
		require.True(t, found)
		assert.Empty(t, site.ImageURI)

		plan, _ := res.ViewResultFor(domain.ViewGroundFloorPlan)
		assert.NotEmpty(t, plan.ImageURI)
		assert.Equal(t, 1, f.repo.count("design-1"))
	})

	t.Run("全てのビューが失敗した場合はエラー", func(t *testing.T) {
		f := newFixture(t)
		f.images.respond = func(domain.ImageGenerationRequest) ([]byte, error) {
			return nil, errors.New("service unavailable")
		}

		_, err := f.p.Generate(ctx, &domain.ProjectBrief{ProjectName: "Broken"})
		assert.Error(t, err)
		assert.Equal(t, 0, f.repo.count("design-1"))
		assert.Empty(t, f.repo.designs, "版の無い設計を残さない")
	})

	t.Run("シートの保存に失敗した場合は設計を残さない", func(t *testing.T) {
		f := newFixture(t)
		f.art.failSuffix = "sheet.png"

		_, err := f.p.Generate(ctx, &domain.ProjectBrief{ProjectName: "No Sheet"})
		require.Error(t, err)
		assert.Empty(t, f.repo.designs)

		_, err = f.repo.LatestVersion(ctx, "design-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("画像以外のデータは失敗として扱う", func(t *testing.T) {
		f := newFixture(t)
		f.images.respond = func(domain.ImageGenerationRequest) ([]byte, error) {
			return []byte("not an image"), nil
		}

		_, err := f.p.Generate(ctx, &domain.ProjectBrief{ProjectName: "Garbage"})
		assert.Error(t, err)
	})

	t.Run("DNA 生成の失敗は設計を作成しない", func(t *testing.T) {
		f := newFixture(t)
		f.dna.err = errors.New("llm down")

		_, err := f.p.Generate(ctx, &domain.ProjectBrief{ProjectName: "X"})
		assert.Error(t, err)
		assert.Empty(t, f.repo.designs)
	})

	t.Run("brief が nil の場合はエラー", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.p.Generate(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("ポートフォリオ画像は生成の間だけ File API に置かれる", func(t *testing.T) {
		f := newFixture(t)
		assets := &mockAssets{failUpload: map[string]bool{"gs://portfolio/broken.jpg": true}}
		f.p.assets = assets

		_, err := f.p.Generate(ctx, &domain.ProjectBrief{
			ProjectName:   "Riverside House",
			PortfolioURLs: []string{"gs://portfolio/a.jpg", "", "gs://portfolio/broken.jpg"},
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"gs://portfolio/a.jpg", "gs://portfolio/broken.jpg"}, assets.uploaded)
		assert.Equal(t, []string{"gs://portfolio/a.jpg"}, assets.deleted, "アップロードに成功した画像のみ削除する")
	})
}

func TestPipeline_Modify(t *testing.T) {
	ctx := context.Background()

	t.Run("パッチの影響ビューのみ同じシードで再生成する", func(t *testing.T) {
		f := newFixture(t)
		v1 := f.generate(t)

		res, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID: "design-1",
			Patch:    &domain.DNAPatch{Roof: &domain.Roof{Type: "hip", Pitch: 30}},
		})
		require.NoError(t, err)

		assert.Equal(t, 2, res.Version)
		assert.Equal(t, "hip", res.DNA.Roof.Type)
		assert.Equal(t, 2, f.repo.count("design-1"))

		for _, vr := range res.Views {
			prev, _ := v1.ViewResultFor(vr.View)
			assert.Equal(t, prev.Seed, vr.Seed, "seed of %s must not change", vr.View)

			if vr.View.Category() == domain.CategoryPlan {
				assert.Equal(t, prev.ImageURI, vr.ImageURI, "%s should be carried over", vr.View)
				assert.Nil(t, vr.Score)
				continue
			}
			assert.Equal(t, "mem://"+artifact.ViewKey("design-1", 2, string(vr.View)), vr.ImageURI)
			require.NotNil(t, vr.Score, "view %s", vr.View)
			assert.True(t, vr.Score.Passed)
			assert.Equal(t, 1, vr.Attempts)
		}

		// ベースライン画像が参照として渡される
		for _, req := range f.images.calls() {
			require.Len(t, req.ReferenceURLs, 1)
			assert.Contains(t, req.ReferenceURLs[0], "/v001/views/")
		}
	})

	t.Run("ドリフトが続く場合はベースラインに戻す", func(t *testing.T) {
		f := newFixture(t)
		v1 := f.generate(t)
		drift := split(t, false)
		f.images.respond = func(domain.ImageGenerationRequest) ([]byte, error) { return drift, nil }

		res, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID:    "design-1",
			Instruction: "replace brick with timber cladding",
			TargetViews: []domain.View{domain.ViewElevationNorth},
		})
		require.NoError(t, err)

		north, _ := res.ViewResultFor(domain.ViewElevationNorth)
		prev, _ := v1.ViewResultFor(domain.ViewElevationNorth)
		assert.True(t, north.RolledBack)
		assert.Equal(t, 3, north.Attempts)
		assert.Equal(t, prev.ImageURI, north.ImageURI)
		require.NotNil(t, north.Score)
		assert.False(t, north.Score.Passed)
		assert.Less(t, north.Score.Combined, consistency.DefaultThreshold)

		// 再試行ごとにロック強度が上がる
		calls := f.images.calls()
		require.Len(t, calls, 3)
		assert.NotContains(t, calls[0].Prompt, "LOCK LEVEL")
		assert.Contains(t, calls[1].Prompt, "LOCK LEVEL 1")
		assert.Contains(t, calls[2].Prompt, "LOCK LEVEL 2")
		for _, c := range calls {
			assert.Contains(t, c.Prompt, "replace brick with timber cladding")
			assert.Equal(t, prev.Seed, *c.Seed)
		}
		assert.False(t, f.art.has("mem://"+artifact.ViewKey("design-1", 2, string(domain.ViewElevationNorth))))
	})

	t.Run("Strict ではドリフト時に修正全体が失敗する", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		drift := split(t, false)
		f.images.respond = func(domain.ImageGenerationRequest) ([]byte, error) { return drift, nil }

		_, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID:    "design-1",
			Instruction: "add a dormer",
			TargetViews: []domain.View{domain.ViewElevationSouth},
			Strict:      true,
		})
		assert.ErrorIs(t, err, ErrDrift)
		assert.Equal(t, 1, f.repo.count("design-1"))
	})

	t.Run("再試行でしきい値を超えれば採用する", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		baseline, drift := split(t, true), split(t, false)
		f.images.respond = func(req domain.ImageGenerationRequest) ([]byte, error) {
			if hasReference(req) && !strings.Contains(req.Prompt, "LOCK LEVEL") {
				return drift, nil
			}
			return baseline, nil
		}

		res, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID:    "design-1",
			Instruction: "darker window frames",
			TargetViews: []domain.View{domain.ViewExterior3D},
		})
		require.NoError(t, err)

		ext, _ := res.ViewResultFor(domain.ViewExterior3D)
		assert.False(t, ext.RolledBack)
		assert.Equal(t, 2, ext.Attempts)
		require.NotNil(t, ext.Score)
		assert.True(t, ext.Score.Passed)
		assert.Equal(t, "mem://"+artifact.ViewKey("design-1", 2, string(domain.ViewExterior3D)), ext.ImageURI)
		assert.Contains(t, ext.Prompt, "LOCK LEVEL 1")
	})

	t.Run("プロンプトとシードが同一なら再生成しない", func(t *testing.T) {
		f := newFixture(t)
		v1 := f.generate(t)

		res, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID:    "design-1",
			TargetViews: []domain.View{domain.ViewSitePlan},
		})
		require.NoError(t, err)
		assert.Empty(t, f.images.calls())

		site, _ := res.ViewResultFor(domain.ViewSitePlan)
		prev, _ := v1.ViewResultFor(domain.ViewSitePlan)
		assert.Equal(t, prev.ImageURI, site.ImageURI)
		assert.Equal(t, 2, res.Version)
	})

	t.Run("入力エラー", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)

		_, err := f.p.Modify(ctx, domain.ModifyRequest{DesignID: "design-1"})
		assert.Error(t, err, "nothing to modify")

		_, err = f.p.Modify(ctx, domain.ModifyRequest{DesignID: "design-1", TargetViews: []domain.View{"roof_plan"}})
		assert.Error(t, err)

		_, err = f.p.Modify(ctx, domain.ModifyRequest{DesignID: "missing", Instruction: "x"})
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = f.p.Modify(ctx, domain.ModifyRequest{})
		assert.Error(t, err)

		assert.Equal(t, 1, f.repo.count("design-1"))
	})

	t.Run("不正な DNA になるパッチは拒否される", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		floors := 9

		_, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID: "design-1",
			Patch:    &domain.DNAPatch{Floors: &floors},
		})
		assert.Error(t, err)
	})
}

func TestPipeline_Check(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.generate(t)

	drift := split(t, false)
	f.images.respond = func(domain.ImageGenerationRequest) ([]byte, error) { return drift, nil }
	_, err := f.p.Modify(ctx, domain.ModifyRequest{
		DesignID:    "design-1",
		Instruction: "timber cladding",
		TargetViews: []domain.View{domain.ViewElevationNorth},
	})
	require.NoError(t, err)

	report, err := f.p.Check(ctx, "design-1", 0)
	require.NoError(t, err)

	assert.Equal(t, "design-1", report.DesignID)
	assert.Equal(t, 1, report.BaselineVersion)
	assert.Equal(t, 2, report.CandidateVersion)
	assert.Equal(t, len(domain.ViewsFor(2)), report.Summary.Checked)
	// ロールバックされたビューはベースラインと同一画像のため合格する
	assert.True(t, report.OK())

	uri := "mem://" + artifact.ReportKey("design-1", 2)
	require.True(t, f.art.has(uri))
	data, _ := f.art.Get(ctx, uri)
	var saved consistency.Report
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, 2, saved.CandidateVersion)

	_, err = f.p.Check(ctx, "design-1", 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPipeline_MissingAssets(t *testing.T) {
	ctx := context.Background()
	viewURI := func(version int, v domain.View) string {
		return "mem://" + artifact.ViewKey("design-1", version, string(v))
	}

	t.Run("引き継ぐビュー画像が無ければ版を保存しない", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		f.art.remove(viewURI(1, domain.ViewSectionAA))

		_, err := f.p.Modify(ctx, domain.ModifyRequest{
			DesignID:    "design-1",
			Instruction: "timber cladding",
			TargetViews: []domain.View{domain.ViewElevationNorth},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, artifact.ErrMissing)
		assert.Contains(t, err.Error(), domain.ViewSectionAA.Title())
		assert.Equal(t, 1, f.repo.count("design-1"))
		assert.False(t, f.art.has("mem://"+artifact.SheetKey("design-1", 2)))
	})

	t.Run("比較画像が欠けたビューは不合格として報告する", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		f.art.remove(viewURI(1, domain.ViewElevationNorth))

		report, err := f.p.Check(ctx, "design-1", 0)
		require.NoError(t, err)

		assert.NotEmpty(t, report.AssetErrors)
		assert.Equal(t, []domain.View{domain.ViewElevationNorth}, report.Summary.FailedViews)
		assert.Equal(t, len(domain.ViewsFor(2)), report.Summary.Checked)
		assert.False(t, report.OK())
	})
}

func TestPipeline_ModifyRegulations(t *testing.T) {
	ctx := context.Background()
	tinyWC := &domain.DNAPatch{AddRooms: []domain.Room{{Name: "WC", Floor: 0, Area: 1}}}

	t.Run("既定では不適合があっても修正を保存する", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)

		res, err := f.p.Modify(ctx, domain.ModifyRequest{DesignID: "design-1", Patch: tinyWC})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Version)
	})

	t.Run("厳格モードでは不適合な修正を拒否する", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		f.p.cfg.StrictRegulations = true

		_, err := f.p.Modify(ctx, domain.ModifyRequest{DesignID: "design-1", Patch: tinyWC})
		require.Error(t, err)
		assert.ErrorIs(t, err, dna.ErrInvalid)
		assert.Equal(t, 1, f.repo.count("design-1"))
	})
}
