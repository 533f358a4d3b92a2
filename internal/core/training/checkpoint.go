package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCheckpointMismatch はチェックポイントの形状が一貫しない場合のエラー
var ErrCheckpointMismatch = errors.New("checkpoint shape mismatch")

// Checkpoint は分類器ヘッドの学習済みパラメータのシリアライズ表現
type Checkpoint struct {
	ModelName    string      `json:"model_name"`
	EmbeddingDim int         `json:"embedding_dim"`
	Classes      []string    `json:"classes"`
	Weights      [][]float64 `json:"weights"`
	Bias         []float64   `json:"bias"`
}

// Checkpoint は現在のパラメータのスナップショットを作成する
func (h *Head) Checkpoint(modelName string) *Checkpoint {
	weights := make([][]float64, len(h.weights))
	for c := range h.weights {
		weights[c] = append([]float64(nil), h.weights[c]...)
	}
	return &Checkpoint{
		ModelName:    modelName,
		EmbeddingDim: h.dim,
		Classes:      append([]string(nil), h.classes...),
		Weights:      weights,
		Bias:         append([]float64(nil), h.bias...),
	}
}

// SaveCheckpoint はチェックポイントをJSONファイルとして書き出す
func SaveCheckpoint(path string, cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}

	return nil
}

// LoadCheckpoint はJSONファイルからチェックポイントを読み込む
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}

	return &cp, nil
}

// NewHeadFromCheckpoint はチェックポイントから分類器ヘッドを復元する
func NewHeadFromCheckpoint(cp *Checkpoint) (*Head, error) {
	h, err := NewHead(cp.EmbeddingDim, cp.Classes)
	if err != nil {
		return nil, err
	}

	if len(cp.Weights) != len(cp.Classes) || len(cp.Bias) != len(cp.Classes) {
		return nil, fmt.Errorf("%w: %d classes, %d weight rows, %d biases",
			ErrCheckpointMismatch, len(cp.Classes), len(cp.Weights), len(cp.Bias))
	}

	for c, row := range cp.Weights {
		if len(row) != cp.EmbeddingDim {
			return nil, fmt.Errorf("%w: weight row %d has dim %d, want %d",
				ErrCheckpointMismatch, c, len(row), cp.EmbeddingDim)
		}
		copy(h.weights[c], row)
	}
	copy(h.bias, cp.Bias)

	return h, nil
}
