package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunConfigValidate(t *testing.T) {
	valid := RunConfig{
		ModelName:    "openai/clip-vit-base-patch32",
		DatasetName:  "Xmaster6y/fruit-vegetable-concepts",
		BatchSize:    64,
		Epochs:       3,
		LearningRate: 1e-5,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"モデル名なし", func(c *RunConfig) { c.ModelName = "" }},
		{"データセット名なし", func(c *RunConfig) { c.DatasetName = "" }},
		{"バッチサイズゼロ", func(c *RunConfig) { c.BatchSize = 0 }},
		{"エポック負", func(c *RunConfig) { c.Epochs = -1 }},
		{"学習率ゼロ", func(c *RunConfig) { c.LearningRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestArtifactRepoID(t *testing.T) {
	cfg := RunConfig{DatasetName: "Xmaster6y/fruit-vegetable-concepts"}
	assert.Equal(t, "Xmaster6y/fruit-vegetable-clfs", cfg.ArtifactRepoID())

	// 置換対象がなければそのまま
	cfg.DatasetName = "org/some-dataset"
	assert.Equal(t, "org/some-dataset", cfg.ArtifactRepoID())
}

func TestArtifactPath(t *testing.T) {
	cfg := RunConfig{ModelName: "openai/clip-vit-base-patch32"}
	assert.Equal(t, "data/openai/clip-vit-base-patch32", cfg.ArtifactPath())
}
