package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shouni/archsheet-kit/pkg/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound は対象の設計またはバージョンが存在しないことを示します。
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict は保存しようとしたバージョン番号が連番になっていないことを示します。
	ErrVersionConflict = errors.New("version conflict")
)

const schema = `
CREATE TABLE IF NOT EXISTS designs (
	id           TEXT PRIMARY KEY,
	project_name TEXT NOT NULL,
	brief_json   TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS versions (
	design_id   TEXT NOT NULL REFERENCES designs(id) ON DELETE CASCADE,
	version     INTEGER NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	dna_json    TEXT NOT NULL,
	sheet_uri   TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (design_id, version)
);

CREATE TABLE IF NOT EXISTS views (
	design_id   TEXT NOT NULL,
	version     INTEGER NOT NULL,
	view        TEXT NOT NULL,
	ordinal     INTEGER NOT NULL,
	prompt      TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	seed        INTEGER NOT NULL,
	image_uri   TEXT NOT NULL,
	score_json  TEXT,
	attempts    INTEGER NOT NULL DEFAULT 1,
	rolled_back INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (design_id, version, view),
	FOREIGN KEY (design_id, version) REFERENCES versions(design_id, version) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_versions_design ON versions(design_id, version DESC);
`

// DesignSummary は履歴一覧向けの設計概要です。
type DesignSummary struct {
	ID            string    `json:"id"`
	ProjectName   string    `json:"project_name"`
	LatestVersion int       `json:"latest_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VersionSummary は1バージョン分の概要です。
type VersionSummary struct {
	Version   int       `json:"version"`
	Note      string    `json:"note,omitempty"`
	SheetURI  string    `json:"sheet_uri"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore は設計・バージョン・ビューの履歴を SQLite に保存します。
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore はデータベースを開き、スキーマを初期化します。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("データベースディレクトリの作成に失敗しました: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("データベースのオープンに失敗しました: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマの初期化に失敗しました: %w", err)
	}

	slog.Debug("履歴データベースを初期化しました", "path", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// Close はデータベース接続を閉じます。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path はデータベースファイルのパスを返します。
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveVersion はシート1版分をビューごとの結果と合わせてトランザクションで保存します。
// バージョン番号は直前のバージョン+1でなければなりません。
// バージョン1の保存時は設計自体も同じトランザクションで登録するため、版の無い設計は残りません。
func (s *SQLiteStore) SaveVersion(ctx context.Context, r *domain.SheetResult) error {
	dnaJSON, err := json.Marshal(r.DNA)
	if err != nil {
		return fmt.Errorf("DNA のシリアライズに失敗しました: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if r.Version == 1 {
		if err := insertDesign(ctx, tx, r.DesignID, r.Brief, createdAt); err != nil {
			return err
		}
	}

	latest, err := latestVersionNumber(ctx, tx, r.DesignID)
	if err != nil {
		return err
	}
	if r.Version != latest+1 {
		return fmt.Errorf("%w: design %s expects version %d, got %d", ErrVersionConflict, r.DesignID, latest+1, r.Version)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (design_id, version, note, dna_json, sheet_uri, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.DesignID, r.Version, r.Note, string(dnaJSON), r.SheetURI, createdAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("バージョンの保存に失敗しました: %w", err)
	}

	for _, v := range r.Views {
		var scoreJSON sql.NullString
		if v.Score != nil {
			b, err := json.Marshal(v.Score)
			if err != nil {
				return fmt.Errorf("スコアのシリアライズに失敗しました: %w", err)
			}
			scoreJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO views (design_id, version, view, ordinal, prompt, prompt_hash, seed, image_uri, score_json, attempts, rolled_back)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.DesignID, r.Version, string(v.View), v.View.Ordinal(), v.Prompt, v.PromptHash, v.Seed, v.ImageURI,
			scoreJSON, v.Attempts, v.RolledBack); err != nil {
			return fmt.Errorf("ビュー %s の保存に失敗しました: %w", v.View, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE designs SET updated_at = ? WHERE id = ?`,
		createdAt.UTC().UnixMilli(), r.DesignID); err != nil {
		return fmt.Errorf("設計の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

func insertDesign(ctx context.Context, tx *sql.Tx, id string, brief domain.ProjectBrief, createdAt time.Time) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM designs WHERE id = ?`, id).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: design %s already exists", ErrVersionConflict, id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("設計の取得に失敗しました: %w", err)
	}

	briefJSON, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("brief のシリアライズに失敗しました: %w", err)
	}
	ts := createdAt.UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO designs (id, project_name, brief_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, brief.ProjectName, string(briefJSON), ts, ts); err != nil {
		return fmt.Errorf("設計 %s の登録に失敗しました: %w", id, err)
	}
	return nil
}

func latestVersionNumber(ctx context.Context, tx *sql.Tx, designID string) (int, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM designs WHERE id = ?`, designID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("design %s: %w", designID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("設計の取得に失敗しました: %w", err)
	}

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM versions WHERE design_id = ?`, designID).Scan(&latest); err != nil {
		return 0, fmt.Errorf("最新バージョンの取得に失敗しました: %w", err)
	}
	return int(latest.Int64), nil
}

// LatestVersion は設計の最新バージョンを返します。
func (s *SQLiteStore) LatestVersion(ctx context.Context, designID string) (*domain.SheetResult, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM versions WHERE design_id = ?`, designID).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("最新バージョンの取得に失敗しました: %w", err)
	}
	if !version.Valid {
		return nil, fmt.Errorf("design %s: %w", designID, ErrNotFound)
	}
	return s.GetVersion(ctx, designID, int(version.Int64))
}

// GetVersion は指定バージョンをビュー結果込みで返します。
func (s *SQLiteStore) GetVersion(ctx context.Context, designID string, version int) (*domain.SheetResult, error) {
	var (
		briefJSON, dnaJSON string
		createdAt          int64
		r                  = &domain.SheetResult{DesignID: designID, Version: version}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT d.brief_json, v.note, v.dna_json, v.sheet_uri, v.created_at
		 FROM versions v JOIN designs d ON d.id = v.design_id
		 WHERE v.design_id = ? AND v.version = ?`,
		designID, version).Scan(&briefJSON, &r.Note, &dnaJSON, &r.SheetURI, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("design %s version %d: %w", designID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("バージョンの取得に失敗しました: %w", err)
	}
	if err := json.Unmarshal([]byte(briefJSON), &r.Brief); err != nil {
		return nil, fmt.Errorf("brief のデコードに失敗しました: %w", err)
	}
	if err := json.Unmarshal([]byte(dnaJSON), &r.DNA); err != nil {
		return nil, fmt.Errorf("DNA のデコードに失敗しました: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdAt).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT view, prompt, prompt_hash, seed, image_uri, score_json, attempts, rolled_back
		 FROM views WHERE design_id = ? AND version = ? ORDER BY ordinal`,
		designID, version)
	if err != nil {
		return nil, fmt.Errorf("ビューの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			vr        domain.ViewResult
			view      string
			scoreJSON sql.NullString
		)
		if err := rows.Scan(&view, &vr.Prompt, &vr.PromptHash, &vr.Seed, &vr.ImageURI, &scoreJSON, &vr.Attempts, &vr.RolledBack); err != nil {
			return nil, fmt.Errorf("ビューの読み取りに失敗しました: %w", err)
		}
		vr.View = domain.View(view)
		if scoreJSON.Valid {
			var sc domain.Score
			if err := json.Unmarshal([]byte(scoreJSON.String), &sc); err != nil {
				return nil, fmt.Errorf("スコアのデコードに失敗しました: %w", err)
			}
			vr.Score = &sc
		}
		r.Views = append(r.Views, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ビューの読み取りに失敗しました: %w", err)
	}
	return r, nil
}

// ListDesigns は更新日時の新しい順に設計の一覧を返します。
func (s *SQLiteStore) ListDesigns(ctx context.Context) ([]DesignSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.project_name, COALESCE(MAX(v.version), 0), d.created_at, d.updated_at
		 FROM designs d LEFT JOIN versions v ON v.design_id = d.id
		 GROUP BY d.id
		 ORDER BY d.updated_at DESC, d.id`)
	if err != nil {
		return nil, fmt.Errorf("設計一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []DesignSummary
	for rows.Next() {
		var (
			ds                   DesignSummary
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&ds.ID, &ds.ProjectName, &ds.LatestVersion, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("設計一覧の読み取りに失敗しました: %w", err)
		}
		ds.CreatedAt = time.UnixMilli(createdAt).UTC()
		ds.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, ds)
	}
	return out, rows.Err()
}

// ListVersions は設計の全バージョンを古い順に返します。
func (s *SQLiteStore) ListVersions(ctx context.Context, designID string) ([]VersionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, note, sheet_uri, created_at FROM versions WHERE design_id = ? ORDER BY version`,
		designID)
	if err != nil {
		return nil, fmt.Errorf("バージョン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []VersionSummary
	for rows.Next() {
		var (
			vs        VersionSummary
			createdAt int64
		)
		if err := rows.Scan(&vs.Version, &vs.Note, &vs.SheetURI, &createdAt); err != nil {
			return nil, fmt.Errorf("バージョン一覧の読み取りに失敗しました: %w", err)
		}
		vs.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, vs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("design %s: %w", designID, ErrNotFound)
	}
	return out, nil
}
