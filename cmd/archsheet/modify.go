package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/workflow"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	modifyDesignID    string
	modifyInstruction string
	modifyViews       []string
	modifyPatchPath   string
	modifyStrict      bool
)

var modifyCmd = &cobra.Command{
	Use:   "modify",
	Short: "最新バージョンに修正を適用し、影響を受けるビューだけを再生成します",
	Long: `DNA パッチ (YAML) と自由記述の指示を最新バージョンに適用します。
パッチで変化した側面と --view で指定したビューのみが再生成され、
それ以外のビューは前バージョンから引き継がれます。

Example:
  archsheet modify --design 3f2c... --patch roof.yaml
  archsheet modify --design 3f2c... --view elevation_south --instruction "add a canopy over the entrance"`,
	RunE: runModify,
}

func init() {
	f := modifyCmd.Flags()
	f.StringVarP(&modifyDesignID, "design", "d", "", "設計 ID")
	f.StringVarP(&modifyInstruction, "instruction", "i", "", "修正指示")
	f.StringSliceVar(&modifyViews, "view", nil, "再生成するビュー (複数指定可)")
	f.StringVarP(&modifyPatchPath, "patch", "p", "", "DNA パッチ (YAML)")
	f.BoolVar(&modifyStrict, "strict", false, "ドリフトを解消できない場合に修正全体を失敗させる")
	_ = modifyCmd.MarkFlagRequired("design")
}

func runModify(cmd *cobra.Command, _ []string) error {
	req := domain.ModifyRequest{
		DesignID:    modifyDesignID,
		Instruction: modifyInstruction,
		Strict:      modifyStrict,
	}
	for _, s := range modifyViews {
		v, err := domain.ParseView(s)
		if err != nil {
			return err
		}
		req.TargetViews = append(req.TargetViews, v)
	}
	if modifyPatchPath != "" {
		patch, err := loadPatch(modifyPatchPath)
		if err != nil {
			return err
		}
		req.Patch = patch
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipeline.Modify(ctx, req)
	if errors.Is(err, workflow.ErrDrift) {
		return fmt.Errorf("%w (--strict を外すと前の画像に戻して続行します)", err)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func loadPatch(path string) (*domain.DNAPatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("DNA パッチの読み込みに失敗しました: %w", err)
	}
	var patch domain.DNAPatch
	if err := yaml.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("DNA パッチの解析に失敗しました (%s): %w", path, err)
	}
	return &patch, nil
}
