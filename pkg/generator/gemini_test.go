package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewGeminiGenerator(t *testing.T) {
	t.Run("nilチェック: 依存関係が足りない場合はエラーを返す", func(t *testing.T) {
		_, err := NewGeminiGenerator(nil, &mockAIClient{}, "img", "txt")
		assert.Error(t, err)
		_, err = NewGeminiGenerator(&mockExecutor{}, nil, "img", "txt")
		assert.Error(t, err)
		_, err = NewGeminiGenerator(&mockExecutor{}, &mockAIClient{}, "", "txt")
		assert.Error(t, err)
	})
}

func TestGeminiGenerator_GenerateView(t *testing.T) {
	ctx := context.Background()

	t.Run("成功: プロンプト・参照画像・シードが渡される", func(t *testing.T) {
		seedVal := int64(777)
		req := domain.ImageGenerationRequest{
			Prompt:         "NORTH ELEVATION of a contemporary building.",
			NegativePrompt: "perspective, shading",
			AspectRatio:    "16:9",
			ReferenceURLs:  []string{"gs://b/base.png", "", "gs://b/broken.png"},
			Seed:           &seedVal,
		}

		executor := &mockExecutor{
			prepareFunc: func(ctx context.Context, url string) *genai.Part {
				if strings.Contains(url, "broken") {
					return nil
				}
				return &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png"}}
			},
			executeFunc: func(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*domain.ImageResponse, error) {
				assert.Equal(t, "image-model", model)
				// テキスト(1) + 取得できた参照画像(1)
				require.Len(t, parts, 2)
				assert.True(t, strings.HasPrefix(parts[0].Text, req.Prompt))
				assert.Contains(t, parts[0].Text, "AVOID: perspective, shading")
				assert.Equal(t, "16:9", opts.AspectRatio)
				assert.Equal(t, &seedVal, opts.Seed)
				return &domain.ImageResponse{Data: []byte("png"), MimeType: "image/png", UsedSeed: *opts.Seed}, nil
			},
		}

		gen, err := NewGeminiGenerator(executor, &mockAIClient{}, "image-model", "text-model")
		require.NoError(t, err)

		resp, err := gen.GenerateView(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, seedVal, resp.UsedSeed)
	})

	t.Run("失敗: エラーが文脈付きでラップされる", func(t *testing.T) {
		expectedErr := errors.New("ai error")
		executor := &mockExecutor{
			executeFunc: func(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*domain.ImageResponse, error) {
				return nil, expectedErr
			},
		}
		gen, _ := NewGeminiGenerator(executor, &mockAIClient{}, "image-model", "text-model")

		_, err := gen.GenerateView(ctx, domain.ImageGenerationRequest{Prompt: "x"})
		assert.ErrorIs(t, err, expectedErr)
		assert.Contains(t, err.Error(), "Gemini ビュー生成エラー")
	})
}

func TestGeminiGenerator_GenerateText(t *testing.T) {
	ctx := context.Background()

	t.Run("成功: システムプロンプトとテキストモデルを使う", func(t *testing.T) {
		ai := &mockAIClient{generateWithPartsFunc: func(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
			assert.Len(t, parts, 2)
			return &gemini.Response{Text: `{"dimensions": {}}`}, nil
		}}
		executor := &mockExecutor{prepareFunc: func(ctx context.Context, url string) *genai.Part {
			return &genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg"}}
		}}
		gen, _ := NewGeminiGenerator(executor, ai, "image-model", "text-model")

		text, err := gen.GenerateText(ctx, "system", "brief", []string{"https://example.com/p.jpg"})
		require.NoError(t, err)
		assert.Equal(t, `{"dimensions": {}}`, text)
		assert.Equal(t, "text-model", ai.lastModel)
		assert.Equal(t, "system", ai.lastOpts.SystemPrompt)
	})

	t.Run("空の応答はエラー", func(t *testing.T) {
		ai := &mockAIClient{generateWithPartsFunc: func(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
			return &gemini.Response{Text: "  "}, nil
		}}
		gen, _ := NewGeminiGenerator(&mockExecutor{}, ai, "image-model", "text-model")

		_, err := gen.GenerateText(ctx, "system", "brief", nil)
		assert.Error(t, err)
	})

	t.Run("空のプロンプトは送信しない", func(t *testing.T) {
		ai := &mockAIClient{}
		gen, _ := NewGeminiGenerator(&mockExecutor{}, ai, "image-model", "text-model")

		_, err := gen.GenerateText(ctx, "system", " ", nil)
		assert.ErrorIs(t, err, gemini.ErrEmptyPrompt)
		assert.Empty(t, ai.lastModel)
	})
}
