package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/go-remote-io/pkg/s3factory"
)

// Store は生成画像やシートを保存するアーティファクトストアです。
// root にはローカルディレクトリ、gs://bucket/prefix、s3://bucket/prefix を指定できます。
type Store struct {
	root    string
	reader  remoteio.InputReader
	writer  remoteio.OutputWriter
	signer  remoteio.URLSigner
	factory io.Closer
}

// New は依存関係を注入して Store を初期化します。signer は nil を許容します。
func New(root string, reader remoteio.InputReader, writer remoteio.OutputWriter, signer remoteio.URLSigner) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	return &Store{root: strings.TrimSuffix(root, "/"), reader: reader, writer: writer, signer: signer}, nil
}

// Open は root のスキームに応じたクライアントを初期化して Store を返します。
func Open(ctx context.Context, root string) (*Store, error) {
	var factory remoteio.IOFactory
	var err error
	switch {
	case remoteio.IsGCSURI(root):
		factory, err = gcsfactory.New(ctx)
	case remoteio.IsS3URI(root):
		factory, err = s3factory.New(ctx)
	default:
		return New(root, remoteio.NewUniversalInputReader(nil, nil), remoteio.NewUniversalIOWriter(nil, nil), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("ストレージクライアントの初期化に失敗しました: %w", err)
	}

	reader, err := factory.InputReader()
	if err != nil {
		factory.Close()
		return nil, err
	}
	writer, err := factory.OutputWriter()
	if err != nil {
		factory.Close()
		return nil, err
	}
	// 署名付き URL は任意機能のため、取得できなくても続行します
	signer, _ := factory.URLSigner()

	s, err := New(root, reader, writer, signer)
	if err != nil {
		factory.Close()
		return nil, err
	}
	s.factory = factory
	return s, nil
}

// Close はクライアントを解放します。
func (s *Store) Close() error {
	if s.factory != nil {
		return s.factory.Close()
	}
	return nil
}

// Root は保存先のルートです。
func (s *Store) Root() string { return s.root }

// URI はキーに対応する URI を返します。
func (s *Store) URI(key string) string {
	key = strings.TrimPrefix(key, "/")
	if remoteio.IsRemoteURI(s.root) {
		return s.root + "/" + path.Clean(key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put はデータを保存し、その URI を返します。
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	uri := s.URI(key)
	if err := s.writer.Write(ctx, uri, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("アーティファクトの保存に失敗しました (%s): %w", uri, err)
	}
	return uri, nil
}

// Get は URI のデータを読み込みます。存在しない場合のエラーは fs.ErrNotExist を包みます。
func (s *Store) Get(ctx context.Context, uri string) ([]byte, error) {
	rc, err := s.reader.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("アーティファクトの読み込みに失敗しました: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Reader は下層の InputReader です。参照画像の読み込みに使います。
func (s *Store) Reader() remoteio.InputReader { return s.reader }

// Writer は下層の OutputWriter です。レポート保存などに使います。
func (s *Store) Writer() remoteio.OutputWriter { return s.writer }

// PublicURL は閲覧用の URL を返します。署名に対応しないストレージでは URI をそのまま返します。
func (s *Store) PublicURL(ctx context.Context, uri string, ttl time.Duration) string {
	if s.signer == nil || !remoteio.IsRemoteURI(uri) {
		return uri
	}
	signed, err := s.signer.GenerateSignedURL(ctx, uri, http.MethodGet, ttl)
	if err != nil {
		return uri
	}
	return signed
}

// ViewKey はビュー画像のキーです。
func ViewKey(designID string, version int, view string) string {
	return fmt.Sprintf("%s/v%03d/views/%s.png", designID, version, view)
}

// SheetKey は A1 シート画像のキーです。
func SheetKey(designID string, version int) string {
	return fmt.Sprintf("%s/v%03d/sheet.png", designID, version)
}

// ReportKey はドリフトレポートのキーです。
func ReportKey(designID string, version int) string {
	return fmt.Sprintf("%s/v%03d/drift_report.json", designID, version)
}
