package training

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	head, err := NewHeadWithSeed(4, []string{"apple", "banana"}, 77)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "model.json")
	require.NoError(t, SaveCheckpoint(path, head.Checkpoint("openai/clip-vit-base-patch32")))

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, "openai/clip-vit-base-patch32", cp.ModelName)
	assert.Equal(t, 4, cp.EmbeddingDim)
	assert.Equal(t, []string{"apple", "banana"}, cp.Classes)

	restored, err := NewHeadFromCheckpoint(cp)
	require.NoError(t, err)

	// 復元したヘッドは同一入力に同一ロジットを返す
	batch := randomEmbeddings(t, 3, 4, 5)
	want, err := head.Forward(batch)
	require.NoError(t, err)
	got, err := restored.Forward(batch)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestNewHeadFromCheckpointShapeMismatch(t *testing.T) {
	cp := &Checkpoint{
		ModelName:    "m",
		EmbeddingDim: 2,
		Classes:      []string{"a", "b"},
		Weights:      [][]float64{{1, 2}},
		Bias:         []float64{0, 0},
	}
	_, err := NewHeadFromCheckpoint(cp)
	assert.ErrorIs(t, err, ErrCheckpointMismatch)

	cp.Weights = [][]float64{{1, 2, 3}, {4, 5, 6}}
	_, err = NewHeadFromCheckpoint(cp)
	assert.ErrorIs(t, err, ErrCheckpointMismatch)
}
