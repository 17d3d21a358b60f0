package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// GeminiGenerator は、ビュー画像の生成(GenerateView)と
// DNA 推論用のテキスト生成(GenerateText)の両方を担当する統合ジェネレーターです。
type GeminiGenerator struct {
	executor   ImageExecutor
	aiClient   gemini.GenerativeModel
	imageModel string
	textModel  string
}

// NewGeminiGenerator は GeminiGenerator を初期化します。
func NewGeminiGenerator(
	executor ImageExecutor,
	aiClient gemini.GenerativeModel,
	imageModel string,
	textModel string,
) (*GeminiGenerator, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor (ImageExecutor) is required")
	}
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient (gemini.GenerativeModel) is required")
	}
	if imageModel == "" || textModel == "" {
		return nil, fmt.Errorf("imageModel and textModel are required")
	}

	return &GeminiGenerator{
		executor:   executor,
		aiClient:   aiClient,
		imageModel: imageModel,
		textModel:  textModel,
	}, nil
}

// GenerateView は1ビュー分の画像を生成します。参照画像は取得できたものだけを添付します。
func (g *GeminiGenerator) GenerateView(ctx context.Context, req domain.ImageGenerationRequest) (*domain.ImageResponse, error) {
	parts := []*genai.Part{{Text: composeViewPrompt(req)}}
	parts = append(parts, g.referenceParts(ctx, req.ReferenceURLs)...)

	slog.DebugContext(ctx, "Gemini 画像生成リクエスト",
		"model", g.imageModel,
		"ref_count", len(parts)-1,
		"aspect_ratio", req.AspectRatio,
	)

	resp, err := g.executor.ExecuteRequest(ctx, g.imageModel, parts, gemini.GenerateOptions{
		AspectRatio: req.AspectRatio,
		Seed:        req.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini ビュー生成エラー: %w", err)
	}
	return resp, nil
}

// GenerateText はシステムプロンプトと参照画像付きでテキストを生成します。
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, prompt string, imageURLs []string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", gemini.ErrEmptyPrompt
	}
	parts := []*genai.Part{{Text: prompt}}
	parts = append(parts, g.referenceParts(ctx, imageURLs)...)

	resp, err := g.aiClient.GenerateWithParts(ctx, g.textModel, parts, gemini.GenerateOptions{SystemPrompt: systemPrompt})
	if err != nil {
		return "", fmt.Errorf("Gemini テキスト生成エラー: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("Gemini テキスト生成エラー: 空の応答が返されました")
	}
	return resp.Text, nil
}

func (g *GeminiGenerator) referenceParts(ctx context.Context, urls []string) []*genai.Part {
	var parts []*genai.Part
	for _, url := range urls {
		if url == "" {
			continue
		}
		if p := g.executor.PrepareImagePart(ctx, url); p != nil {
			parts = append(parts, p)
		}
	}
	return parts
}

// composeViewPrompt はネガティブプロンプトを本文に織り込みます。
// Gemini の画像生成にはネガティブプロンプト専用の引数が無いためです。
func composeViewPrompt(req domain.ImageGenerationRequest) string {
	if req.NegativePrompt == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\nAVOID: " + req.NegativePrompt
}
