package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestImage は単色の小さなPNGを書き出す
func writeTestImage(t *testing.T, path string, c color.RGBA) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeImagefolder(t *testing.T, root string, layout map[string][]string) {
	t.Helper()

	for dir, files := range layout {
		for i, name := range files {
			writeTestImage(t, filepath.Join(root, dir, name), color.RGBA{R: uint8(i * 40), G: 128, B: 64, A: 255})
		}
	}
}

func TestLoadBuildsSortedVocabularyFromTrainSplit(t *testing.T) {
	root := t.TempDir()
	writeImagefolder(t, root, map[string][]string{
		"train/banana":      {"a.png", "b.png"},
		"train/apple":       {"a.png"},
		"train/cherry":      {"a.png", "b.png", "c.png"},
		"validation/apple":  {"a.png"},
		"validation/cherry": {"a.png"},
	})

	ds, err := Load(root)
	require.NoError(t, err)

	// 語彙は学習スプリットのクラスディレクトリ名のソート順
	assert.Equal(t, []string{"apple", "banana", "cherry"}, ds.Classes)
	assert.Equal(t, 6, ds.Train.Len())
	assert.Equal(t, 2, ds.Validation.Len())

	for _, sample := range ds.Train.Samples {
		assert.Equal(t, ds.Classes[sample.Label], sample.Class)
	}
}

// 検証スプリットに語彙外のクラスがあれば閉集合違反としてエラー
func TestLoadRejectsUnknownValidationClass(t *testing.T) {
	root := t.TempDir()
	writeImagefolder(t, root, map[string][]string{
		"train/apple":       {"a.png"},
		"validation/apple":  {"a.png"},
		"validation/durian": {"a.png"},
	})

	_, err := Load(root)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestLoadMissingSplit(t *testing.T) {
	root := t.TempDir()
	writeImagefolder(t, root, map[string][]string{
		"train/apple": {"a.png"},
	})

	_, err := Load(root)
	assert.ErrorIs(t, err, ErrSplitNotFound)
}

func TestLoadEmptySplit(t *testing.T) {
	root := t.TempDir()
	writeImagefolder(t, root, map[string][]string{
		"train/apple":      {"a.png"},
		"validation/apple": {"notes.txt"},
	})

	_, err := Load(root)
	assert.ErrorIs(t, err, ErrEmptySplit)
}

func TestLoadIgnoresNonImageFiles(t *testing.T) {
	root := t.TempDir()
	writeImagefolder(t, root, map[string][]string{
		"train/apple":      {"a.png", "README.md"},
		"validation/apple": {"a.jpg_not_image.bin", "b.png"},
	})

	ds, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Train.Len())
	assert.Equal(t, 1, ds.Validation.Len())
}
