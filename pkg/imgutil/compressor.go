package imgutil

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// FitToJPEG は画像データ (PNG, GIF, JPEG 等) を JPEG に圧縮します。長辺が maxSide を超える場合は先に縮小します。
// maxSide が 0 以下の場合は縮小しません。参照画像をモデルに送る前に使います。
func FitToJPEG(data []byte, maxSide uint, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if maxSide > 0 {
		b := img.Bounds()
		if uint(b.Dx()) > maxSide || uint(b.Dy()) > maxSide {
			img = resize.Thumbnail(maxSide, maxSide, img, resize.Lanczos3)
		}
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
