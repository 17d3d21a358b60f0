package generator

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/shouni/archsheet-kit/pkg/imgutil"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-remote-io/pkg/remoteio"
)

// GeminiImageCore は AssetManager と ImageExecutor の両方の責務を担う基盤クラスです。
type GeminiImageCore struct {
	aiClient        gemini.GenerativeModel
	reader          remoteio.InputReader
	httpClient      HTTPClient
	cache           ImageCacher
	expiration      time.Duration
	allowLocalFiles bool
}

// CoreOption は GeminiImageCore の任意設定です。
type CoreOption func(*GeminiImageCore)

// WithLocalFiles はローカルファイルパスの参照画像を許可します。
// アーティファクトをローカルディスクに保存する構成で、ベースライン画像を参照するために使います。
func WithLocalFiles(allow bool) CoreOption {
	return func(c *GeminiImageCore) {
		c.allowLocalFiles = allow
	}
}

// NewGeminiImageCore は依存関係を注入して GeminiImageCore を初期化します。
func NewGeminiImageCore(aiClient gemini.GenerativeModel, reader remoteio.InputReader, httpClient HTTPClient, cache ImageCacher, cacheTTL time.Duration, opts ...CoreOption) (*GeminiImageCore, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	// cache は nil を許容（キャッシュなし動作）

	c := &GeminiImageCore{
		aiClient:   aiClient,
		reader:     reader,
		httpClient: httpClient,
		cache:      cache,
		expiration: cacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UploadFile は画像を Gemini File API にアップロードし、URI を返します。
func (c *GeminiImageCore) UploadFile(ctx context.Context, fileURI string) (string, error) {
	cacheKeyURI := cacheKeyFileAPIURI + fileURI
	if c.cache != nil {
		if val, ok := c.cache.Get(cacheKeyURI); ok {
			if uri, ok := val.(string); ok {
				return uri, nil
			}
		}
	}

	data, err := c.loadReference(ctx, fileURI)
	if err != nil {
		return "", err
	}

	mimeType := http.DetectContentType(data)
	displayName := filepath.Base(fileURI)

	uri, fileName, err := c.aiClient.UploadFile(ctx, data, mimeType, displayName)
	if err != nil {
		return "", fmt.Errorf("File API へのアップロードに失敗しました: %w", err)
	}

	// URI（参照用）と Name（削除用）の両方をキャッシュ
	if c.cache != nil {
		c.cache.Set(cacheKeyURI, uri, c.expiration)
		c.cache.Set(cacheKeyFileAPIName+fileURI, fileName, c.expiration)
	}

	return uri, nil
}

// DeleteFile はキャッシュされたファイル名を使用して Gemini File API からファイルを削除します。
func (c *GeminiImageCore) DeleteFile(ctx context.Context, fileURI string) error {
	if c.cache != nil {
		if val, ok := c.cache.Get(cacheKeyFileAPIName + fileURI); ok {
			if name, ok := val.(string); ok {
				if err := c.aiClient.DeleteFile(ctx, name); err != nil {
					return fmt.Errorf("File API からの削除に失敗しました: %w", err)
				}
				// 削除済みの URI を PrepareImagePart が返さないようにします
				c.cache.Delete(cacheKeyFileAPIURI + fileURI)
				c.cache.Delete(cacheKeyFileAPIName + fileURI)
				return nil
			}
		}
	}

	// キャッシュミスした場合、URL 形式の fileURI では Delete API を叩けないためエラーを返す
	return fmt.Errorf("cannot determine file name for deletion, file not found in cache: %s", fileURI)
}

// loadReference は参照画像を取得し、必要に応じて縮小・圧縮します。
// 画像としてデコードできないデータは圧縮せずにそのまま返します。
func (c *GeminiImageCore) loadReference(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := c.fetchImageData(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !UseImageCompression {
		return data, nil
	}
	if compressed, err := imgutil.FitToJPEG(data, MaxReferenceSide, ImageCompressionQuality); err == nil {
		return compressed, nil
	}
	return data, nil
}
