package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/sheet"
	"gopkg.in/yaml.v3"
)

// Config は archsheet 全体の設定です。
type Config struct {
	Gemini      GeminiConfig      `yaml:"gemini"`
	Generation  GenerationConfig  `yaml:"generation"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Sheet       sheet.Config      `yaml:"sheet"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// GeminiConfig は Gemini API の設定です。
type GeminiConfig struct {
	APIKey       string        `yaml:"api_key"`
	TextModel    string        `yaml:"text_model"`
	ImageModel   string        `yaml:"image_model"`
	Temperature  float32       `yaml:"temperature"`
	MaxRetries   uint64        `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// GenerationConfig はビュー生成の実行設定です。
type GenerationConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	ViewTimeout       time.Duration `yaml:"view_timeout"`
	// ViewRetries は画像を復号できない応答とビュー単位のタイムアウトに対する再試行回数です。
	// 0 なら再試行しません。API エラーの再試行は gemini.max_retries が担います。
	ViewRetries   uint64            `yaml:"view_retries"`
	RetryInterval time.Duration     `yaml:"retry_interval"`
	DNAMaxRetries uint64            `yaml:"dna_max_retries"`
	AspectRatios  map[string]string `yaml:"aspect_ratios"`
	// StrictRegulations は建築規則の簡易チェックの不適合を警告ではなくエラーとして扱います。
	StrictRegulations bool `yaml:"strict_regulations"`
}

// ConsistencyConfig は一貫性スコアリングとドリフト判定の設定です。
type ConsistencyConfig struct {
	Threshold     float64             `yaml:"threshold"`
	Weights       consistency.Weights `yaml:"weights"`
	MaxRetries    int                 `yaml:"max_retries"`
	SSIMSize      int                 `yaml:"ssim_size"`
	EdgeTolerance int                 `yaml:"edge_tolerance"`
	Concurrency   int                 `yaml:"concurrency"`
}

// StorageConfig は履歴 DB と成果物の保存先です。
type StorageConfig struct {
	DatabasePath    string        `yaml:"database_path"`
	ArtifactRoot    string        `yaml:"artifact_root"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	AllowLocalFiles bool          `yaml:"allow_local_files"`
}

// ServerConfig は HTTP サーバーの設定です。
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig はログ出力の設定です。
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig は既定値の設定を返します。
func DefaultConfig() *Config {
	return &Config{
		Gemini: GeminiConfig{
			TextModel:    "gemini-2.5-flash",
			ImageModel:   "gemini-2.5-flash-image",
			Temperature:  0.4,
			MaxRetries:   2,
			InitialDelay: 5 * time.Second,
			MaxDelay:     30 * time.Second,
			HTTPTimeout:  30 * time.Second,
		},
		Generation: GenerationConfig{
			RequestsPerMinute: 10,
			Burst:             1,
			ViewTimeout:       3 * time.Minute,
			ViewRetries:       1,
			RetryInterval:     2 * time.Second,
			DNAMaxRetries:     2,
		},
		Consistency: ConsistencyConfig{
			Threshold:     consistency.DefaultThreshold,
			Weights:       consistency.DefaultWeights(),
			MaxRetries:    2,
			SSIMSize:      consistency.DefaultSSIMSize,
			EdgeTolerance: consistency.DefaultEdgeTolerance,
			Concurrency:   4,
		},
		Sheet: sheet.Config{
			DPI:      sheet.DefaultDPI,
			MarginMM: sheet.DefaultMarginMM,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(".archsheet", "archsheet.db"),
			ArtifactRoot: filepath.Join(".archsheet", "artifacts"),
			CacheTTL:     30 * time.Minute,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は YAML ファイルを既定値の上に読み込み、環境変数で上書きします。
// path が空、またはファイルが存在しない場合は既定値を使います。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("設定ファイルが見つからないため既定値を使用します", "path", path)
		case err != nil:
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if path := os.Getenv("ARCHSHEET_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if root := os.Getenv("ARCHSHEET_ARTIFACT_ROOT"); root != "" {
		c.Storage.ArtifactRoot = root
	}
	if addr := os.Getenv("ARCHSHEET_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate は設定値の整合性を検証し、全ての問題をまとめて返します。
// API キーの有無は生成系コマンドでのみ必要なため RequireAPIKey で別途検証します。
func (c *Config) Validate() error {
	var errs []error

	if c.Gemini.TextModel == "" || c.Gemini.ImageModel == "" {
		errs = append(errs, errors.New("gemini.text_model and gemini.image_model are required"))
	}
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 1 {
		errs = append(errs, fmt.Errorf("gemini.temperature must be within 0..1, got %.2f", c.Gemini.Temperature))
	}
	if c.Generation.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("generation.requests_per_minute must be positive, got %d", c.Generation.RequestsPerMinute))
	}
	if c.Generation.ViewRetries > 0 && c.Generation.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("generation.retry_interval must be positive when view_retries is set, got %s", c.Generation.RetryInterval))
	}
	for view := range c.Generation.AspectRatios {
		if !domain.View(view).Valid() {
			errs = append(errs, fmt.Errorf("generation.aspect_ratios: unknown view %q", view))
		}
	}
	if c.Consistency.Threshold <= 0 || c.Consistency.Threshold > 1 {
		errs = append(errs, fmt.Errorf("consistency.threshold must be within (0, 1], got %.2f", c.Consistency.Threshold))
	}
	if c.Consistency.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("consistency.max_retries must not be negative, got %d", c.Consistency.MaxRetries))
	}
	w := c.Consistency.Weights
	if w.PHash < 0 || w.SSIM < 0 || w.Edge < 0 || w.PHash+w.SSIM+w.Edge <= 0 {
		errs = append(errs, errors.New("consistency.weights must be non-negative with a positive sum"))
	}
	if c.Sheet.DPI < 30 || c.Sheet.DPI > 600 {
		errs = append(errs, fmt.Errorf("sheet.dpi must be within 30..600, got %d", c.Sheet.DPI))
	}
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("storage.database_path is required"))
	}
	if c.Storage.ArtifactRoot == "" {
		errs = append(errs, errors.New("storage.artifact_root is required"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// RequireAPIKey は Gemini API キーが設定されているか検証します。
func (c *Config) RequireAPIKey() error {
	if c.Gemini.APIKey == "" {
		return errors.New("Gemini API キーが設定されていません (GEMINI_API_KEY を設定してください)")
	}
	return nil
}

// AspectRatioOverrides はビュー単位のアスペクト比上書きを返します。
func (c *Config) AspectRatioOverrides() map[domain.View]string {
	if len(c.Generation.AspectRatios) == 0 {
		return nil
	}
	out := make(map[domain.View]string, len(c.Generation.AspectRatios))
	for k, v := range c.Generation.AspectRatios {
		out[domain.View(k)] = v
	}
	return out
}

// ParseLevel はログレベル文字列を slog.Level に変換します。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level: unknown level %q", s)
}

// NewLogger は設定に従って slog.Logger を生成します。
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
