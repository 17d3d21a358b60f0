package generator

import (
	"fmt"
	"math"
	"strings"

	"github.com/shouni/archsheet-kit/pkg/seed"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/netarmor/securenet"
)

// clampSeed は int32 範囲外のシードを範囲内に折り返します。
// go-gemini-client は範囲外のシードを捨ててしまうため、再現性を保つためにここで調整します。
func clampSeed(s *int64) *int64 {
	if s == nil {
		return nil
	}
	if *s > math.MaxInt32 || *s < math.MinInt32 {
		v := seed.Normalize(*s)
		return &v
	}
	return s
}

// IsSafeURL は、SSRF (Server-Side Request Forgery) 対策として URL を検証します。
// http/https はプライベートIPやループバックを拒否し、gs:// と s3:// は許可します。
func IsSafeURL(rawURL string) (bool, error) {
	return securenet.IsSafeURL(rawURL)
}

// isLocalPath はスキームを持たないローカルファイルパスかどうかを判定します。
func isLocalPath(rawURL string) bool {
	return rawURL != "" && !strings.Contains(rawURL, "://") && !remoteio.IsRemoteURI(rawURL)
}

func isHTTPURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func unsafeURLError(rawURL string, err error) error {
	if err == nil {
		return fmt.Errorf("安全ではないURLが指定されました: %s", rawURL)
	}
	return fmt.Errorf("安全ではないURLが指定されました: %w", err)
}
