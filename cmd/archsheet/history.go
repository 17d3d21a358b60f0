package main

import (
	"github.com/spf13/cobra"
)

var (
	historyDesignID string
	historyVersion  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "設計の一覧、またはバージョン履歴を表示します",
	Long: `--design を省略すると全設計の一覧を更新日時の新しい順に表示します。
--design を指定するとバージョン一覧を、--version も指定するとそのバージョンの詳細を表示します。`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyDesignID, "design", "d", "", "設計 ID")
	historyCmd.Flags().IntVar(&historyVersion, "version", 0, "詳細を表示するバージョン")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	switch {
	case historyDesignID == "":
		designs, err := a.repo.ListDesigns(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, designs)
	case historyVersion > 0:
		result, err := a.repo.GetVersion(ctx, historyDesignID, historyVersion)
		if err != nil {
			return err
		}
		return printJSON(out, result)
	default:
		versions, err := a.repo.ListVersions(ctx, historyDesignID)
		if err != nil {
			return err
		}
		return printJSON(out, versions)
	}
}
