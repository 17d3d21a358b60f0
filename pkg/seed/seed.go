package seed

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"
)

// MaxSeed は画像生成 API が受け付けるシードの上限です。
// go-gemini-client は int32 範囲外のシードを黙って捨てるため、ここで範囲内に収めます。
const MaxSeed = math.MaxInt32

// Dereference は、int64のポインタを安全にデリファレンスします。
// ポインタがnilの場合は0を返します。
func Dereference(seed *int64) int64 {
	if seed == nil {
		return 0
	}
	return *seed
}

// Normalize はシード値を 1..MaxSeed の範囲に折り返します。
func Normalize(s int64) int64 {
	// 先に剰余を取るため math.MinInt64 でも符号反転が桁あふれしません。
	s %= MaxSeed
	if s < 0 {
		s = -s
	}
	if s == 0 {
		return 1
	}
	return s
}

// Random は新規デザイン用のベースシードを生成します。
func Random() int64 {
	return rand.Int64N(MaxSeed-1) + 1
}

// ForView はベースシードとビュー名から決定的なビュー別シードを導出します。
// 同じ入力からは常に同じ値が返り、修正時のシード再利用を保証します。
func ForView(base int64, view string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(base, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(view))
	return Normalize(int64(h.Sum64() >> 1))
}
