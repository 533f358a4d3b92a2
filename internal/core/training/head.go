package training

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrInvalidDimension は埋め込み次元が不正な場合のエラー
	ErrInvalidDimension = errors.New("embedding dimension must be positive")

	// ErrEmptyClasses はクラス語彙が空の場合のエラー
	ErrEmptyClasses = errors.New("class vocabulary must not be empty")

	// ErrLabelOutOfRange はラベルがクラス語彙の範囲外の場合のエラー
	ErrLabelOutOfRange = errors.New("label index out of range")

	// ErrBatchMismatch は埋め込みとラベルの件数が一致しない場合のエラー
	ErrBatchMismatch = errors.New("embeddings and labels length mismatch")
)

// Head は凍結済み特徴抽出器の埋め込みをクラスロジットへ写像する線形分類器ヘッド。
// パラメータの更新は外部のオプティマイザが行い、Head 自身は勾配の蓄積までを担当する。
type Head struct {
	classes []string
	dim     int

	// weights[c][j] はクラス c における埋め込み次元 j の重み
	weights [][]float64
	bias    []float64

	gradWeights [][]float64
	gradBias    []float64
}

// NewHead は埋め込み次元とクラス語彙から分類器ヘッドを作成する。
// 語彙は閉じた集合として扱い、以後のラベルはすべてこの語彙に対する添字でなければならない。
func NewHead(embeddingDim int, classes []string) (*Head, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, embeddingDim)
	}
	if len(classes) == 0 {
		return nil, ErrEmptyClasses
	}

	h := &Head{
		classes:     append([]string(nil), classes...),
		dim:         embeddingDim,
		weights:     make([][]float64, len(classes)),
		bias:        make([]float64, len(classes)),
		gradWeights: make([][]float64, len(classes)),
		gradBias:    make([]float64, len(classes)),
	}

	// Xavier初期化。再現性が必要な場合は NewHeadWithSeed を使う
	scale := math.Sqrt(2.0 / float64(embeddingDim+len(classes)))
	for c := range h.weights {
		h.weights[c] = make([]float64, embeddingDim)
		h.gradWeights[c] = make([]float64, embeddingDim)
		for j := range h.weights[c] {
			h.weights[c][j] = rand.NormFloat64() * scale
		}
	}

	return h, nil
}

// NewHeadWithSeed は乱数シードを固定して分類器ヘッドを作成する
func NewHeadWithSeed(embeddingDim int, classes []string, seed int64) (*Head, error) {
	h, err := NewHead(embeddingDim, classes)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	scale := math.Sqrt(2.0 / float64(embeddingDim+len(classes)))
	for c := range h.weights {
		for j := range h.weights[c] {
			h.weights[c][j] = rng.NormFloat64() * scale
		}
		h.bias[c] = 0
	}

	return h, nil
}

// Classes はクラス語彙を返す
func (h *Head) Classes() []string {
	return append([]string(nil), h.classes...)
}

// Dimension は入力埋め込みの次元を返す
func (h *Head) Dimension() int {
	return h.dim
}

// Forward は埋め込みバッチからロジットバッチを計算する。
// 現在のパラメータのみに依存する純粋関数で、内部状態を変更しない。
func (h *Head) Forward(embeddings [][]float32) ([][]float64, error) {
	logits := make([][]float64, len(embeddings))
	for i, emb := range embeddings {
		if len(emb) != h.dim {
			return nil, fmt.Errorf("%w: embedding %d has dim %d, want %d", ErrInvalidDimension, i, len(emb), h.dim)
		}
		row := make([]float64, len(h.classes))
		for c := range h.classes {
			sum := h.bias[c]
			w := h.weights[c]
			for j, x := range emb {
				sum += w[j] * float64(x)
			}
			row[c] = sum
		}
		logits[i] = row
	}
	return logits, nil
}

// Loss は埋め込みバッチとラベルバッチからバッチ平均のカテゴリカル交差エントロピーを計算する。
// パラメータも勾配バッファも変更しない
func (h *Head) Loss(embeddings [][]float32, labels []int) (float64, error) {
	_, loss, err := h.forwardLoss(embeddings, labels)
	return loss, err
}

// Backward は損失を計算しつつ、線形ヘッドの閉形式勾配を勾配バッファへ蓄積する。
// 勾配は dlogits = softmax - onehot をバッチ平均したもの
func (h *Head) Backward(embeddings [][]float32, labels []int) (float64, error) {
	probs, loss, err := h.forwardLoss(embeddings, labels)
	if err != nil {
		return 0, err
	}

	batch := float64(len(embeddings))
	for i, emb := range embeddings {
		for c := range h.classes {
			dlogit := probs[i][c]
			if c == labels[i] {
				dlogit -= 1.0
			}
			dlogit /= batch

			h.gradBias[c] += dlogit
			gw := h.gradWeights[c]
			for j, x := range emb {
				gw[j] += dlogit * float64(x)
			}
		}
	}

	return loss, nil
}

// ZeroGrad は勾配バッファをクリアする
func (h *Head) ZeroGrad() {
	for c := range h.gradWeights {
		for j := range h.gradWeights[c] {
			h.gradWeights[c][j] = 0
		}
		h.gradBias[c] = 0
	}
}

// forwardLoss はロジット計算、数値安定なsoftmax、交差エントロピーをまとめて行う
func (h *Head) forwardLoss(embeddings [][]float32, labels []int) ([][]float64, float64, error) {
	if len(embeddings) != len(labels) {
		return nil, 0, fmt.Errorf("%w: %d embeddings, %d labels", ErrBatchMismatch, len(embeddings), len(labels))
	}
	if len(embeddings) == 0 {
		return nil, 0, fmt.Errorf("%w: empty batch", ErrBatchMismatch)
	}
	for i, label := range labels {
		if label < 0 || label >= len(h.classes) {
			return nil, 0, fmt.Errorf("%w: label %d at position %d, vocabulary size %d", ErrLabelOutOfRange, label, i, len(h.classes))
		}
	}

	logits, err := h.Forward(embeddings)
	if err != nil {
		return nil, 0, err
	}

	probs := make([][]float64, len(logits))
	total := 0.0
	for i, row := range logits {
		// log-sum-exp による安定化
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		sumExp := 0.0
		p := make([]float64, len(row))
		for c, v := range row {
			p[c] = math.Exp(v - maxLogit)
			sumExp += p[c]
		}
		for c := range p {
			p[c] /= sumExp
		}
		probs[i] = p

		logZ := maxLogit + math.Log(sumExp)
		total += logZ - row[labels[i]]
	}

	return probs, total / float64(len(logits)), nil
}
