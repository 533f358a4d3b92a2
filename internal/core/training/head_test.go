package training

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeadValidation(t *testing.T) {
	tests := []struct {
		name    string
		dim     int
		classes []string
		wantErr error
	}{
		{name: "次元ゼロ", dim: 0, classes: []string{"a"}, wantErr: ErrInvalidDimension},
		{name: "次元負", dim: -3, classes: []string{"a"}, wantErr: ErrInvalidDimension},
		{name: "クラス空", dim: 8, classes: nil, wantErr: ErrEmptyClasses},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHead(tt.dim, tt.classes)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	head, err := NewHead(8, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 8, head.Dimension())
	assert.Equal(t, []string{"a", "b", "c"}, head.Classes())
}

func TestForwardShape(t *testing.T) {
	head, err := NewHeadWithSeed(4, []string{"x", "y", "z"}, 1)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 5, 4, 2)
	logits, err := head.Forward(batch)
	require.NoError(t, err)

	require.Len(t, logits, 5)
	for _, row := range logits {
		assert.Len(t, row, 3)
	}
}

func TestForwardDimensionMismatch(t *testing.T) {
	head, err := NewHeadWithSeed(4, []string{"x", "y"}, 1)
	require.NoError(t, err)

	_, err = head.Forward([][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

// 同一パラメータ・同一入力に対する Forward は常に同一のロジットを返す
func TestForwardIdempotent(t *testing.T) {
	head, err := NewHeadWithSeed(8, []string{"a", "b"}, 42)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 3, 8, 7)

	first, err := head.Forward(batch)
	require.NoError(t, err)
	second, err := head.Forward(batch)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLossFiniteNonNegative(t *testing.T) {
	head, err := NewHeadWithSeed(8, []string{"a", "b", "c"}, 3)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 6, 8, 11)
	labels := []int{0, 1, 2, 0, 1, 2}

	loss, err := head.Loss(batch, labels)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.False(t, math.IsInf(loss, 0))
	assert.GreaterOrEqual(t, loss, 0.0)
}

// クラス語彙は閉じた集合: ["a","b","c"] に対するラベル3は範囲外エラー
func TestLossLabelOutOfRange(t *testing.T) {
	head, err := NewHeadWithSeed(8, []string{"a", "b", "c"}, 3)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 1, 8, 13)

	_, err = head.Loss(batch, []int{3})
	assert.ErrorIs(t, err, ErrLabelOutOfRange)

	_, err = head.Loss(batch, []int{-1})
	assert.ErrorIs(t, err, ErrLabelOutOfRange)
}

func TestLossBatchMismatch(t *testing.T) {
	head, err := NewHeadWithSeed(8, []string{"a", "b"}, 3)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 2, 8, 17)

	_, err = head.Loss(batch, []int{0})
	assert.ErrorIs(t, err, ErrBatchMismatch)

	_, err = head.Loss(nil, nil)
	assert.ErrorIs(t, err, ErrBatchMismatch)
}

// Loss は純粋関数であり、パラメータも勾配バッファも変更しない
func TestLossDoesNotMutate(t *testing.T) {
	head, err := NewHeadWithSeed(4, []string{"a", "b"}, 5)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 3, 4, 19)
	before, err := head.Forward(batch)
	require.NoError(t, err)

	_, err = head.Loss(batch, []int{0, 1, 0})
	require.NoError(t, err)

	after, err := head.Forward(batch)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	for c := range head.gradWeights {
		for _, g := range head.gradWeights[c] {
			assert.Zero(t, g)
		}
		assert.Zero(t, head.gradBias[c])
	}
}

// Backward の解析勾配を中心差分の数値勾配と突き合わせる
func TestBackwardGradientMatchesNumerical(t *testing.T) {
	head, err := NewHeadWithSeed(3, []string{"a", "b"}, 9)
	require.NoError(t, err)

	batch := randomEmbeddings(t, 4, 3, 23)
	labels := []int{0, 1, 1, 0}

	head.ZeroGrad()
	_, err = head.Backward(batch, labels)
	require.NoError(t, err)

	const eps = 1e-6
	for c := range head.weights {
		for j := range head.weights[c] {
			orig := head.weights[c][j]

			head.weights[c][j] = orig + eps
			plus, err := head.Loss(batch, labels)
			require.NoError(t, err)

			head.weights[c][j] = orig - eps
			minus, err := head.Loss(batch, labels)
			require.NoError(t, err)

			head.weights[c][j] = orig
			numerical := (plus - minus) / (2 * eps)
			assert.InDelta(t, numerical, head.gradWeights[c][j], 1e-5)
		}
	}
}

// 線形分離可能な2クラスタに対して、学習を続ければ平均損失は下がる（統計的な期待）
func TestLossDecreasesOnSeparableClusters(t *testing.T) {
	head, err := NewHeadWithSeed(2, []string{"left", "right"}, 99)
	require.NoError(t, err)
	opt := NewAdam(head)

	rng := rand.New(rand.NewSource(7))
	makeBatch := func() ([][]float32, []int) {
		embeddings := make([][]float32, 16)
		labels := make([]int, 16)
		for i := range embeddings {
			label := i % 2
			center := float32(-2.0)
			if label == 1 {
				center = 2.0
			}
			embeddings[i] = []float32{
				center + float32(rng.NormFloat64())*0.3,
				float32(rng.NormFloat64()) * 0.3,
			}
			labels[i] = label
		}
		return embeddings, labels
	}

	const stepsPerEpoch = 20
	epochLoss := func() float64 {
		total := 0.0
		for step := 0; step < stepsPerEpoch; step++ {
			embeddings, labels := makeBatch()
			head.ZeroGrad()
			loss, err := head.Backward(embeddings, labels)
			require.NoError(t, err)
			opt.Step(head, 0.05)
			total += loss
		}
		return total / stepsPerEpoch
	}

	first := epochLoss()
	for epoch := 0; epoch < 3; epoch++ {
		epochLoss()
	}
	last := epochLoss()

	assert.Less(t, last, first, "最終エポックの平均損失は最初のエポックより低いはず")
}

// randomEmbeddings はシード固定の乱数埋め込みバッチを生成する
func randomEmbeddings(t *testing.T, batch, dim int, seed int64) [][]float32 {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	embeddings := make([][]float32, batch)
	for i := range embeddings {
		embeddings[i] = make([]float32, dim)
		for j := range embeddings[i] {
			embeddings[i][j] = float32(rng.NormFloat64())
		}
	}
	return embeddings
}
