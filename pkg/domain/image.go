package domain

// ImageGenerationRequest は単一ビューの画像生成要求です。
// Seed は nil でランダム、値指定で固定となります。
type ImageGenerationRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	ReferenceURLs  []string // 一貫性保持のための参照画像 (ベースライン、ポートフォリオ)
	Seed           *int64
}

// ImageResponse は生成された画像データとそのメタデータです。
type ImageResponse struct {
	Data     []byte
	MimeType string
	UsedSeed int64 // 戻り値は情報欠落を防ぐため int64
}

// SeedPtr は int64 のシード値をポインタに変換します。
func SeedPtr(seed int64) *int64 {
	return &seed
}
