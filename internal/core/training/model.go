package training

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ProjectName は実験トラッカー上のプロジェクト名前空間
	ProjectName = "mulsi-clf"

	// CheckpointFileName はローカルに書き出すチェックポイントのファイル名
	CheckpointFileName = "model.json"
)

// ErrInvalidConfig はランの設定が不正な場合のエラー
var ErrInvalidConfig = errors.New("invalid run config")

// RunConfig は1回の学習ランの設定。
// プロセス全体の可変グローバルではなく、ラン起動時に明示的に渡す
type RunConfig struct {
	ModelName       string  // 特徴抽出器のモデル識別子
	DatasetName     string  // データセット識別子
	BatchSize       int     // バッチサイズ
	Epochs          int     // エポック数
	LearningRate    float64 // 学習率
	DownloadDataset bool    // スナップショットを強制再ダウンロードするか
}

// Validate は設定を検証する。計算開始前に呼び出し、不正ならエラーを返す
func (c RunConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidConfig)
	}
	if c.DatasetName == "" {
		return fmt.Errorf("%w: dataset name is required", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	return nil
}

// TrackerConfig はトラッカーのランに付与する設定タグを返す
func (c RunConfig) TrackerConfig() map[string]any {
	return map[string]any{
		"model_name":       c.ModelName,
		"dataset_name":     c.DatasetName,
		"batch_size":       c.BatchSize,
		"n_epochs":         c.Epochs,
		"lr":               c.LearningRate,
		"download_dataset": c.DownloadDataset,
	}
}

// ArtifactRepoID はアップロード先リポジトリIDを導出する。
// データセットIDの "concepts" を "clfs" に置換する規約
func (c RunConfig) ArtifactRepoID() string {
	return strings.Replace(c.DatasetName, "concepts", "clfs", 1)
}

// ArtifactPath はリポジトリ内のアップロード先パスを返す
func (c RunConfig) ArtifactPath() string {
	return "data/" + c.ModelName
}

// RunResult は完了したランの結果
type RunResult struct {
	RunID            uuid.UUID
	Steps            int       // 学習ステップ総数
	ValidationLosses []float64 // エポックごとの検証損失
	CheckpointPath   string    // ローカルチェックポイントのパス
	Duration         time.Duration
}
