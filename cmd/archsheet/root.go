package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shouni/archsheet-kit/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	// グローバルフラグ
	configPath string
	logLevel   string

	// PersistentPreRunE で読み込まれた設定
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "archsheet",
	Short: "Design DNA から一貫性のある A1 建築プレゼンシートを生成します",
	Long: `archsheet はプロジェクト概要から Design DNA を推論し、平面図・立面図・断面図・3D を
同一の DNA とシードで生成して A1 シートに合成します。

修正時は変更の影響を受けるビューだけを再生成し、ベースラインとの一貫性スコアが
閾値を下回った場合はロックを強めて再試行し、最後は前の画像に戻します。`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "archsheet.yaml", "設定ファイル (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	rootCmd.AddCommand(generateCmd, modifyCmd, checkCmd, compareCmd, historyCmd, serveCmd)
}

// setup は設定の読み込み、ロガーと GOMAXPROCS の初期化を行います。
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("設定が不正です: %w", err)
	}

	logger := c.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("GOMAXPROCS の設定に失敗しました", "error", err)
	}

	cfg = c
	return nil
}

// printJSON は結果を整形済み JSON で出力します。
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("結果の出力に失敗しました: %w", err)
	}
	return nil
}
