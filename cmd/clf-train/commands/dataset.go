package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/clf-train/internal/core/dataset"
	"github.com/jinford/clf-train/internal/infra/hub"
	"github.com/jinford/clf-train/internal/platform/config"
	"github.com/jinford/clf-train/internal/platform/logger"
)

// DatasetDownloadAction はデータセットスナップショットをハブから取得するコマンドのアクション。
// ハブとONNXモデル以外の依存を必要としないため、コンテナは構築しない
func DatasetDownloadAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	datasetName := cmd.String("dataset-name")
	force := cmd.Bool("force")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	logger.New(logger.DefaultConfig())

	client, err := hub.NewClient(cfg.Hub.Token, hub.WithBaseURL(cfg.Hub.BaseURL))
	if err != nil {
		return err
	}

	snapshotDir := cfg.SnapshotDir(datasetName)
	slog.Info("スナップショット取得を開始", "dataset", datasetName, "dir", snapshotDir, "force", force)

	if err := client.SnapshotDownload(ctx, datasetName, snapshotDir, force); err != nil {
		slog.Error("スナップショット取得に失敗しました", "error", err)
		return err
	}

	slog.Info("スナップショット取得が完了しました", "dir", snapshotDir)
	return nil
}

// DatasetInspectAction はローカルスナップショットのクラス語彙とスプリット構成を表示する
func DatasetInspectAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	datasetName := cmd.String("dataset-name")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	ds, err := dataset.Load(cfg.SnapshotDir(datasetName))
	if err != nil {
		return err
	}

	fmt.Printf("データセット: %s\n", datasetName)
	fmt.Printf("クラス数: %d\n", len(ds.Classes))
	for i, class := range ds.Classes {
		fmt.Printf("  [%d] %s\n", i, class)
	}
	fmt.Printf("train: %d件\n", ds.Train.Len())
	fmt.Printf("validation: %d件\n", ds.Validation.Len())

	return nil
}
