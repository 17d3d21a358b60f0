package generator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/seed"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"google.golang.org/genai"
)

// ExecuteRequest は画像生成リクエストを送信し、最初の画像パーツを取り出します。
func (c *GeminiImageCore) ExecuteRequest(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*domain.ImageResponse, error) {
	gOpts := gemini.GenerateOptions{
		AspectRatio:  opts.AspectRatio,
		SystemPrompt: opts.SystemPrompt,
		Seed:         clampSeed(opts.Seed),
	}

	resp, err := c.aiClient.GenerateWithParts(ctx, model, parts, gOpts)
	if err != nil {
		return nil, err
	}

	out, err := c.parseToResponse(resp, seed.Dereference(gOpts.Seed))
	if err != nil {
		return nil, err
	}

	return &domain.ImageResponse{
		Data:     out.Data,
		MimeType: out.MimeType,
		UsedSeed: out.UsedSeed,
	}, nil
}

// PrepareImagePart は参照画像をモデルに渡すパーツに変換します。
// File API にアップロード済みであれば FileData を、そうでなければインラインデータを返します。
func (c *GeminiImageCore) PrepareImagePart(ctx context.Context, rawURL string) *genai.Part {
	if c.cache != nil {
		if val, ok := c.cache.Get(cacheKeyFileAPIURI + rawURL); ok {
			if uri, ok := val.(string); ok {
				return &genai.Part{FileData: &genai.FileData{FileURI: uri}}
			}
		}
		if val, ok := c.cache.Get(cacheKeyInlineData + rawURL); ok {
			if data, ok := val.([]byte); ok {
				return c.toPart(data)
			}
		}
	}

	data, err := c.loadReference(ctx, rawURL)
	if err != nil {
		slog.WarnContext(ctx, "参照画像の取得に失敗しました。スキップします", "url", rawURL, "error", err)
		return nil
	}

	part := c.toPart(data)
	if part != nil && c.cache != nil {
		c.cache.Set(cacheKeyInlineData+rawURL, data, c.expiration)
	}
	return part
}

func (c *GeminiImageCore) fetchImageData(ctx context.Context, rawURL string) ([]byte, error) {
	if isLocalPath(rawURL) {
		if !c.allowLocalFiles {
			return nil, fmt.Errorf("ローカルファイルの参照は許可されていません: %s", rawURL)
		}
		return c.readAll(ctx, rawURL)
	}

	if safe, err := IsSafeURL(rawURL); err != nil || !safe {
		return nil, unsafeURLError(rawURL, err)
	}

	if remoteio.IsRemoteURI(rawURL) {
		return c.readAll(ctx, rawURL)
	}
	if !isHTTPURL(rawURL) {
		return nil, fmt.Errorf("未対応のURLです: %s", rawURL)
	}
	return c.httpClient.FetchBytes(ctx, rawURL)
}

func (c *GeminiImageCore) readAll(ctx context.Context, uri string) ([]byte, error) {
	rc, err := c.reader.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (c *GeminiImageCore) toPart(data []byte) *genai.Part {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}
}

func (c *GeminiImageCore) parseToResponse(resp *gemini.Response, seed int64) (*ImageOutput, error) {
	if resp == nil || resp.RawResponse == nil || len(resp.RawResponse.Candidates) == 0 {
		return nil, fmt.Errorf("invalid response")
	}
	candidate := resp.RawResponse.Candidates[0]
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		return nil, fmt.Errorf("画像生成が中断されました (理由: %v)", candidate.FinishReason)
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("no image data")
	}
	for _, part := range candidate.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &ImageOutput{Data: part.InlineData.Data, MimeType: part.InlineData.MIMEType, UsedSeed: seed}, nil
		}
	}
	return nil, fmt.Errorf("no image data")
}
