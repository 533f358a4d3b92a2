package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/jinford/clf-train/internal/core/training"
)

// Metadata はエクスポート済みビジョンタワーのメタデータファイル。
// ONNXモデルと同じディレクトリに置く
type Metadata struct {
	ModelName  string    `json:"model_name"`
	HiddenSize int       `json:"hidden_size"`
	ImageSize  int       `json:"image_size"`
	Mean       []float32 `json:"mean"`
	Std        []float32 `json:"std"`
	InputName  string    `json:"input_name"`
	OutputName string    `json:"output_name"`
}

// Extractor は凍結済みビジョンタワーのONNXエクスポートを実行する特徴抽出器。
// セッションは [1, 3, S, S] 入力と [1, H] 出力（pooler出力）の固定形状で、
// バッチは1枚ずつ順に推論する
type Extractor struct {
	session      *ort.AdvancedSession
	metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewExtractor はONNXモデルとメタデータファイルから抽出器を作成する
func NewExtractor(modelPath, metadataPath string) (*Extractor, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read extractor metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse extractor metadata: %w", err)
	}
	if err := validateMetadata(metadata); err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, 3, int64(metadata.ImageSize), int64(metadata.ImageSize))
	outputShape := ort.NewShape(1, int64(metadata.HiddenSize))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Extractor{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func validateMetadata(m Metadata) error {
	if m.HiddenSize <= 0 {
		return fmt.Errorf("extractor metadata: hidden_size must be positive, got %d", m.HiddenSize)
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("extractor metadata: image_size must be positive, got %d", m.ImageSize)
	}
	if len(m.Mean) != 3 || len(m.Std) != 3 {
		return fmt.Errorf("extractor metadata: mean and std must have 3 channels")
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("extractor metadata: input_name and output_name are required")
	}
	return nil
}

// ExtractBatch は画像バッチから埋め込みバッチを計算する
func (e *Extractor) ExtractBatch(ctx context.Context, images []image.Image) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pixels := Preprocess(img, e.metadata.ImageSize, e.metadata.Mean, e.metadata.Std)
		copy(e.inputTensor.GetData(), pixels)

		if err := e.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed for image %d: %w", i, err)
		}

		embedding := make([]float32, e.metadata.HiddenSize)
		copy(embedding, e.outputTensor.GetData())
		embeddings = append(embeddings, embedding)
	}
	return embeddings, nil
}

// Dimension は埋め込みの次元を返す
func (e *Extractor) Dimension() int {
	return e.metadata.HiddenSize
}

// ModelName はモデル識別子を返す
func (e *Extractor) ModelName() string {
	return e.metadata.ModelName
}

// Close はセッションとテンソルを破棄する
func (e *Extractor) Close() {
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	if e.session != nil {
		e.session.Destroy()
	}
	ort.DestroyEnvironment()
}

// インターフェース実装の確認
var _ training.FeatureExtractor = (*Extractor)(nil)
