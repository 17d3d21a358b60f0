package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
)

// ErrMissing は参照されている成果物が存在しないことを示します。
var ErrMissing = errors.New("成果物が存在しません")

// Getter は成果物を URI から読み込みます。
type Getter interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Asset は組み立て前に存在を確かめる成果物です。
// Required が false のものは欠けていても警告にとどめます。
type Asset struct {
	Label    string `json:"label"`
	URI      string `json:"uri,omitempty"`
	Required bool   `json:"required"`
	Exists   bool   `json:"exists"`
	Size     int    `json:"size_bytes,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Validation は成果物検証の結果です。読み込んだデータを保持し、Getter としても使えます。
type Validation struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Assets   []Asset  `json:"assets"`

	data map[string][]byte
}

// Validate は assets を順に読み込み、必須の成果物が揃っているか検証します。
// 成果物の欠落は結果に記録し、エラーを返すのはコンテキストが終了した場合のみです。
func Validate(ctx context.Context, g Getter, assets []Asset) (*Validation, error) {
	v := &Validation{Assets: make([]Asset, 0, len(assets)), data: make(map[string][]byte)}
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.Exists = false
		switch data, ok := v.data[a.URI]; {
		case a.URI == "":
			v.record(a, "未生成")
		case ok:
			a.Exists = true
			a.Size = len(data)
			a.Hash = digest(data)
		default:
			data, err := g.Get(ctx, a.URI)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				reason := "読み込めません"
				if errors.Is(err, fs.ErrNotExist) {
					reason = "見つかりません"
				}
				slog.DebugContext(ctx, "成果物を読み込めません", "label", a.Label, "uri", a.URI, "error", err)
				v.record(a, reason)
				break
			}
			v.data[a.URI] = data
			a.Exists = true
			a.Size = len(data)
			a.Hash = digest(data)
		}
		v.Assets = append(v.Assets, a)
	}
	v.Passed = len(v.Errors) == 0
	return v, nil
}

func (v *Validation) record(a Asset, reason string) {
	msg := fmt.Sprintf("%s: %s", a.Label, reason)
	if a.URI != "" {
		msg += " (" + a.URI + ")"
	}
	if a.Required {
		v.Errors = append(v.Errors, msg)
	} else {
		v.Warnings = append(v.Warnings, msg)
	}
}

// Err は必須の成果物が欠けている場合にそれらをまとめたエラーを返します。
func (v *Validation) Err() error {
	if v.Passed {
		return nil
	}
	errs := make([]error, 0, len(v.Errors))
	for _, e := range v.Errors {
		errs = append(errs, errors.New(e))
	}
	return fmt.Errorf("%w: %w", ErrMissing, errors.Join(errs...))
}

// Get は検証時に読み込んだデータを返します。読み込めなかった URI は ErrMissing を返します。
func (v *Validation) Get(_ context.Context, uri string) ([]byte, error) {
	if data, ok := v.data[uri]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissing, uri)
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}
