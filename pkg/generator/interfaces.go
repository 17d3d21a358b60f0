package generator

import (
	"context"
	"time"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// AssetManager は File API とのやり取りを担当します。
type AssetManager interface {
	UploadFile(ctx context.Context, fileURI string) (string, error)
	DeleteFile(ctx context.Context, fileURI string) error
}

// ImageGenerator はワークフロー層が利用するビュー画像生成の窓口です。
type ImageGenerator interface {
	GenerateView(ctx context.Context, req domain.ImageGenerationRequest) (*domain.ImageResponse, error)
}

// TextGenerator は DNA 推論などのテキスト生成の窓口です。
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, prompt string, imageURLs []string) (string, error)
}

// ImageExecutor は、画像生成リクエストを処理し、画像関連データを準備するためのメソッドを定義するインターフェースです。
type ImageExecutor interface {
	// ExecuteRequest は、指定されたパラメータで画像生成リクエストを実行し、結果を返します。
	ExecuteRequest(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*domain.ImageResponse, error)
	// PrepareImagePart は、指定された画像URLから後続処理で利用する画像パーツを作成します。
	// 取得に失敗した場合は nil を返します。
	PrepareImagePart(ctx context.Context, rawURL string) *genai.Part
}

// ImageCacher は、画像をキャッシュするためのインターフェースです。
// github.com/patrickmn/go-cache の *cache.Cache がそのまま満たします。
type ImageCacher interface {
	// Get は、指定されたキーに紐づくアイテムを取得します。
	Get(key string) (any, bool)
	// Set は、指定されたキーと値、有効期限でアイテムを保存します。
	Set(key string, value any, d time.Duration)
	// Delete は、指定されたキーのアイテムを削除します。
	Delete(key string)
}

// HTTPClient は、URLからデータを取得するためのインターフェースです。
// httpkit.Client が満たします。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}
