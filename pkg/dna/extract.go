package dna

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
)

// ErrNoJSONObject は LLM 出力に JSON オブジェクトが見つからなかったことを示します。
var ErrNoJSONObject = errors.New("no JSON object found in model output")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)```")

// Extract は LLM の自由記述出力から JSON オブジェクト部分を取り出します。
// ```json フェンスを優先し、無ければ最初の釣り合った {...} を探します。
func Extract(text string) ([]byte, error) {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		body := bytes.TrimSpace([]byte(m[1]))
		if obj, ok := firstObject(body); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject([]byte(text)); ok {
		return obj, nil
	}
	return nil, ErrNoJSONObject
}

// firstObject は文字列リテラルとエスケープを考慮して最初の完全な {...} を返します。
func firstObject(b []byte) ([]byte, bool) {
	for start := bytes.IndexByte(b, '{'); start >= 0; {
		if end, ok := matchBrace(b, start); ok {
			obj := b[start : end+1]
			if json.Valid(obj) {
				return obj, true
			}
		}
		next := bytes.IndexByte(b[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func matchBrace(b []byte, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
