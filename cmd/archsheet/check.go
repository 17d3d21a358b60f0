package main

import (
	"github.com/spf13/cobra"
)

var (
	checkDesignID string
	checkVersion  int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "保存済みバージョンをバージョン1と比較してドリフトレポートを出力します",
	Long: `各ビューについてベースライン (バージョン1) との一貫性スコアを計算し、
drift_report.json として成果物ストアに保存します。Gemini API キーは不要です。`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkDesignID, "design", "d", "", "設計 ID")
	checkCmd.Flags().IntVar(&checkVersion, "version", 0, "検査するバージョン (0 は最新)")
	_ = checkCmd.MarkFlagRequired("design")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.checker.Check(ctx, checkDesignID, checkVersion)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}
