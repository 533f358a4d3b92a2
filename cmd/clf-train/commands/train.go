package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/clf-train/internal/core/dataset"
	"github.com/jinford/clf-train/internal/core/training"
	"github.com/jinford/clf-train/internal/infra/hub"
	"github.com/jinford/clf-train/internal/platform/config"
)

// TrainAction は分類器ヘッドの学習ランを実行するコマンドのアクション
func TrainAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	runConfig := training.RunConfig{
		ModelName:       cmd.String("model-name"),
		DatasetName:     cmd.String("dataset-name"),
		BatchSize:       cmd.Int("batch-size"),
		Epochs:          cmd.Int("n-epochs"),
		LearningRate:    cmd.Float("lr"),
		DownloadDataset: cmd.Bool("download-dataset"),
	}

	// 計算開始前に設定を検証する
	if err := runConfig.Validate(); err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("学習コマンドを開始",
		"model", runConfig.ModelName,
		"dataset", runConfig.DatasetName,
		"batch_size", runConfig.BatchSize,
		"n_epochs", runConfig.Epochs,
		"lr", runConfig.LearningRate,
	)

	ds, err := loadSnapshot(ctx, appCtx.Config, runConfig.DatasetName, runConfig.DownloadDataset)
	if err != nil {
		slog.Error("データセットの準備に失敗しました", "error", err)
		return err
	}

	result, err := appCtx.Container.TrainService.Run(ctx, ds, runConfig)
	if err != nil {
		slog.Error("学習ランに失敗しました", "error", err)
		return err
	}

	slog.Info("学習コマンドが完了しました",
		"run_id", result.RunID,
		"steps", result.Steps,
		"checkpoint", result.CheckpointPath,
		"duration", result.Duration,
	)
	return nil
}

// loadSnapshot はローカルスナップショットを読み込む。
// force が true、またはスナップショットが未取得の場合はハブからダウンロードする
func loadSnapshot(ctx context.Context, cfg *config.Config, datasetName string, force bool) (*dataset.Dataset, error) {
	snapshotDir := cfg.SnapshotDir(datasetName)

	client, err := hub.NewClient(cfg.Hub.Token, hub.WithBaseURL(cfg.Hub.BaseURL))
	if err != nil {
		return nil, err
	}

	if err := client.SnapshotDownload(ctx, datasetName, snapshotDir, force); err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗: %w", err)
	}

	return dataset.Load(snapshotDir)
}
