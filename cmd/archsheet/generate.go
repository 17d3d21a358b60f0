package main

import (
	"fmt"
	"os"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	briefPath string
	seedFlag  int64
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "プロジェクト概要から新しい設計とシートを生成します",
	Long: `YAML のプロジェクト概要から Design DNA を推論し、全ビューを生成して A1 シートに合成します。
結果はバージョン1として履歴 DB に保存されます。

Example:
  archsheet generate --brief brief.yaml --seed 42`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&briefPath, "brief", "b", "", "プロジェクト概要 (YAML)")
	generateCmd.Flags().Int64Var(&seedFlag, "seed", 0, "シード (未指定の場合は概要の値またはランダム)")
	_ = generateCmd.MarkFlagRequired("brief")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	brief, err := loadBrief(briefPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		brief.Seed = &seedFlag
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipeline.Generate(ctx, brief)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

// loadBrief は YAML のプロジェクト概要を読み込みます。JSON も YAML として解釈できます。
func loadBrief(path string) (*domain.ProjectBrief, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト概要の読み込みに失敗しました: %w", err)
	}
	var brief domain.ProjectBrief
	if err := yaml.Unmarshal(data, &brief); err != nil {
		return nil, fmt.Errorf("プロジェクト概要の解析に失敗しました (%s): %w", path, err)
	}
	if brief.ProjectName == "" {
		return nil, fmt.Errorf("project_name is required (%s)", path)
	}
	return &brief, nil
}
