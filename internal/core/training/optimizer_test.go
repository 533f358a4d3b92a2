package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdamStepMovesAgainstGradient(t *testing.T) {
	head, err := NewHeadWithSeed(2, []string{"a", "b"}, 1)
	require.NoError(t, err)
	opt := NewAdam(head)

	head.ZeroGrad()
	head.gradWeights[0][0] = 1.0
	head.gradWeights[1][1] = -1.0
	head.gradBias[0] = 0.5

	before00 := head.weights[0][0]
	before11 := head.weights[1][1]
	beforeBias := head.bias[0]

	opt.Step(head, 0.01)

	assert.Less(t, head.weights[0][0], before00, "正の勾配ならパラメータは減る")
	assert.Greater(t, head.weights[1][1], before11, "負の勾配ならパラメータは増える")
	assert.Less(t, head.bias[0], beforeBias)
}

// バイアス補正により、初回ステップの更新量はほぼ学習率そのものになる
func TestAdamFirstStepMagnitude(t *testing.T) {
	head, err := NewHeadWithSeed(1, []string{"a"}, 1)
	require.NoError(t, err)
	opt := NewAdam(head)

	head.ZeroGrad()
	head.gradWeights[0][0] = 0.3

	before := head.weights[0][0]
	opt.Step(head, 0.01)

	delta := math.Abs(head.weights[0][0] - before)
	assert.InDelta(t, 0.01, delta, 1e-4)
}

func TestAdamZeroGradientLeavesParameters(t *testing.T) {
	head, err := NewHeadWithSeed(3, []string{"a", "b"}, 2)
	require.NoError(t, err)
	opt := NewAdam(head)

	snapshot := head.Checkpoint("test")
	head.ZeroGrad()
	opt.Step(head, 0.01)

	after := head.Checkpoint("test")
	for c := range snapshot.Weights {
		for j := range snapshot.Weights[c] {
			assert.InDelta(t, snapshot.Weights[c][j], after.Weights[c][j], 1e-12)
		}
		assert.InDelta(t, snapshot.Bias[c], after.Bias[c], 1e-12)
	}
}
