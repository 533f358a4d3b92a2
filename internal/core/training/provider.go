package training

import (
	"context"
	"image"
)

// FeatureExtractor は画像バッチを固定次元の埋め込みバッチへ変換する凍結済みエンコーダ。
// 学習中に勾配が流れることはなく、内部の並列化等は実装側の自由とする。
// ONNXランタイム以外のバックエンドでも、このインターフェースを満たせば差し替え可能
type FeatureExtractor interface {
	// ExtractBatch は画像バッチから埋め込みバッチを計算する
	ExtractBatch(ctx context.Context, images []image.Image) ([][]float32, error)

	// Dimension は埋め込みの次元 H を返す
	Dimension() int

	// ModelName は抽出器のモデル識別子を返す
	ModelName() string
}

// Tracker は実験トラッカーへのメトリクス送信を担う。
// Start で確保したランは、エラー経路を含むすべての経路で Finish により解放される
type Tracker interface {
	// Start はプロジェクト配下に新しいランを作成する
	Start(ctx context.Context, project string, config map[string]any) error

	// Log はメトリクスを1ステップ分記録する
	Log(ctx context.Context, metrics map[string]float64) error

	// Finish はランを終了する
	Finish(ctx context.Context) error
}

// Publisher は学習済みアーティファクトをリモートのハブへ公開する
type Publisher interface {
	// UploadFile はローカルファイルをリポジトリ内の指定パスへアップロードする
	UploadFile(ctx context.Context, localPath, repoID, pathInRepo string) error
}

// EmbeddingCache は計算済み埋め込みの永続キャッシュ。
// 抽出器モデル名と画像内容ハッシュの組をキーとする。設定されていない場合は使われない
type EmbeddingCache interface {
	// Get はキャッシュ済み埋め込みを返す。2番目の戻り値はヒットの有無
	Get(ctx context.Context, model, contentHash string) ([]float32, bool, error)

	// Put は埋め込みをキャッシュへ保存する
	Put(ctx context.Context, model, contentHash string, embedding []float32) error
}
