package main

import (
	"fmt"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare [baseline] [candidate]",
	Short: "2枚の画像の一貫性スコアを計算します",
	Long: `pHash・SSIM・エッジ F1 とその加重平均を出力します。
ローカルパスのほか、成果物ストアが読める URI (gs://, s3://) も指定できます。`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

type compareResult struct {
	Baseline  string       `json:"baseline"`
	Candidate string       `json:"candidate"`
	Threshold float64      `json:"threshold"`
	Score     domain.Score `json:"score"`
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	baseline, err := a.artifacts.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ベースライン画像の読み込みに失敗しました: %w", err)
	}
	candidate, err := a.artifacts.Get(ctx, args[1])
	if err != nil {
		return fmt.Errorf("候補画像の読み込みに失敗しました: %w", err)
	}
	score, err := a.scorer.ScoreBytes(baseline, candidate)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), compareResult{
		Baseline:  args[0],
		Candidate: args[1],
		Threshold: a.scorer.Threshold(),
		Score:     score,
	})
}
