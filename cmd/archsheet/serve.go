package main

import (
	"log/slog"

	"github.com/shouni/archsheet-kit/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "JSON HTTP API サーバーを起動します",
	Long: `生成・修正・検査・履歴参照の HTTP API を提供します。
SIGINT / SIGTERM を受けると処理中のリクエストを待ってから停止します。`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "待ち受けアドレス (既定は設定ファイルの server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(a.pipeline, a.repo, a.artifacts)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	slog.InfoContext(ctx, "サーバーを起動します", "addr", addr, "artifact_root", a.artifacts.Root())
	return srv.Run(ctx, addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
}
