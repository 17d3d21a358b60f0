package generator

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	UseImageCompression     = true
	ImageCompressionQuality = 85
	// MaxReferenceSide はモデルに送る参照画像の長辺の上限 (px) です。
	MaxReferenceSide = 1536

	cacheKeyFileAPIURI  = "fileapi_uri:"
	cacheKeyFileAPIName = "fileapi_name:"
	cacheKeyInlineData  = "inline:"
)

// ImageOutput は Core の内部解析結果
type ImageOutput struct {
	Data     []byte
	MimeType string
	UsedSeed int64
}

// NewImageCache は参照画像用の TTL 付きインメモリキャッシュを作成します。
func NewImageCache(ttl time.Duration) ImageCacher {
	return cache.New(ttl, 2*ttl)
}
