package workflow

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/shouni/archsheet-kit/pkg/artifact"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/imgutil"
	"github.com/shouni/archsheet-kit/pkg/prompt"
	"github.com/shouni/archsheet-kit/pkg/sheet"
	"github.com/shouni/netarmor/retry"
)

// generateView はレートリミットとタイムアウトを適用して1ビューを生成し、PNG データを返します。
func (p *Pipeline) generateView(ctx context.Context, pr prompt.Prompt, refs []string) ([]byte, error) {
	req := domain.ImageGenerationRequest{
		Prompt:         pr.Text,
		NegativePrompt: pr.Negative,
		AspectRatio:    pr.AspectRatio,
		ReferenceURLs:  refs,
		Seed:           domain.SeedPtr(pr.Seed),
	}

	var out []byte
	op := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		vctx := ctx
		if p.cfg.ViewTimeout > 0 {
			var cancel context.CancelFunc
			vctx, cancel = context.WithTimeout(ctx, p.cfg.ViewTimeout)
			defer cancel()
		}
		resp, err := p.images.GenerateView(vctx, req)
		if err != nil {
			return err
		}
		data, err := toPNG(resp)
		if err != nil {
			return err
		}
		out = data
		return nil
	}

	if p.cfg.GenerateRetries == 0 {
		if err := op(); err != nil {
			return nil, err
		}
		return out, nil
	}

	// API エラーはクライアント側で再試行済みのため、ここでは復号できない応答と
	// ビュー単位のタイムアウトだけを再試行します。
	shouldRetry := func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return errors.Is(err, errUndecodable) || errors.Is(err, context.DeadlineExceeded)
	}

	cfg := retry.Config{
		MaxRetries:      p.cfg.GenerateRetries,
		InitialInterval: p.cfg.RetryInterval,
		MaxInterval:     p.cfg.RetryInterval * 4,
	}
	if err := retry.Do(ctx, cfg, fmt.Sprintf("ビュー生成 (%s)", pr.View), op, shouldRetry); err != nil {
		return nil, err
	}
	return out, nil
}

// errUndecodable は生成結果が画像として復号できないことを示します。
var errUndecodable = errors.New("生成結果を画像として復号できません")

// toPNG は生成結果を検証し、PNG 以外であれば PNG に変換します。
func toPNG(resp *domain.ImageResponse) ([]byte, error) {
	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: 画像データが空です", errUndecodable)
	}
	img, err := imgutil.Decode(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUndecodable, err)
	}
	if resp.MimeType == "image/png" {
		return resp.Data, nil
	}
	return imgutil.EncodePNG(img)
}

func (p *Pipeline) putView(ctx context.Context, designID string, version int, v domain.View, data []byte) (string, error) {
	return p.artifacts.Put(ctx, artifact.ViewKey(designID, version, string(v)), data, "image/png")
}

// composeAndSave はシートを合成して保存し、バージョンを履歴に記録します。
// images に無いビューは成果物ストアから読み込みます。
func (p *Pipeline) composeAndSave(ctx context.Context, r *domain.SheetResult, images map[domain.View][]byte) error {
	assets, err := p.validateAssets(ctx, r, images)
	if err != nil {
		return err
	}

	panels := make([]sheet.Panel, 0, len(r.Views))
	for _, vr := range r.Views {
		panel := sheet.Panel{View: vr.View, Score: vr.Score, RolledBack: vr.RolledBack}
		if img := panelImage(ctx, vr, images, assets); img != nil {
			panel.Image = img
		}
		panels = append(panels, panel)
	}

	canvas, err := p.composer.Compose(panels, sheet.Meta{
		DesignID: r.DesignID,
		Version:  r.Version,
		Brief:    r.Brief,
		DNA:      &r.DNA,
		Date:     r.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("シートの合成に失敗しました: %w", err)
	}
	data, err := sheet.EncodePNG(canvas)
	if err != nil {
		return err
	}
	r.SheetURI, err = p.artifacts.Put(ctx, artifact.SheetKey(r.DesignID, r.Version), data, "image/png")
	if err != nil {
		return err
	}

	if err := p.repo.SaveVersion(ctx, r); err != nil {
		return fmt.Errorf("バージョン %d の保存に失敗しました: %w", r.Version, err)
	}
	return nil
}

// validateAssets はシートの組み立て前に、引き継いだビュー画像が揃っているか確かめます。
// 参照先の無いビューは版を保存させず、未生成のビューは空欄として警告にとどめます。
func (p *Pipeline) validateAssets(ctx context.Context, r *domain.SheetResult, images map[domain.View][]byte) (*artifact.Validation, error) {
	var assets []artifact.Asset
	for _, vr := range r.Views {
		if _, ok := images[vr.View]; ok {
			continue
		}
		assets = append(assets, artifact.Asset{
			Label:    vr.View.Title(),
			URI:      vr.ImageURI,
			Required: vr.ImageURI != "",
		})
	}
	v, err := artifact.Validate(ctx, p.artifacts, assets)
	if err != nil {
		return nil, err
	}
	for _, w := range v.Warnings {
		slog.WarnContext(ctx, "空欄として配置します", "design_id", r.DesignID, "version", r.Version, "asset", w)
	}
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("バージョン %d の組み立てに必要な成果物が揃っていません: %w", r.Version, err)
	}
	return v, nil
}

func panelImage(ctx context.Context, vr domain.ViewResult, images map[domain.View][]byte, assets *artifact.Validation) image.Image {
	data, ok := images[vr.View]
	if !ok {
		if vr.ImageURI == "" {
			return nil
		}
		var err error
		data, err = assets.Get(ctx, vr.ImageURI)
		if err != nil {
			return nil
		}
	}
	img, err := imgutil.Decode(data)
	if err != nil {
		slog.WarnContext(ctx, "ビュー画像をデコードできません", "view", vr.View, "error", err)
		return nil
	}
	return img
}
