package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"os"

	// バッチ読み込み時のデコード用
	_ "image/jpeg"
	_ "image/png"
)

var (
	// ErrInvalidBatchSize はバッチサイズが正でない場合のエラー
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrBatchOutOfRange はバッチ添字が範囲外の場合のエラー
	ErrBatchOutOfRange = errors.New("batch index out of range")
)

// Batch はデコード済み画像とラベルの組からなる1バッチ。
// Hashes は画像ファイル内容のSHA-256で、埋め込みキャッシュのキーに使う
type Batch struct {
	Images []image.Image
	Labels []int
	Hashes []string
	Paths  []string
}

// Len はバッチ内のサンプル数を返す
func (b *Batch) Len() int {
	return len(b.Images)
}

// Loader はスプリットを固定サイズのバッチ列として提供する。
// Shuffle を呼ばない限り順序はスプリットの列挙順のまま固定される。
// 画像のデコードは Batch 呼び出し時に行い、バッチはステップ消費後に破棄される前提
type Loader struct {
	split     *Split
	batchSize int
	order     []int
}

// NewLoader はスプリットに対するバッチローダーを作成する
func NewLoader(split *Split, batchSize int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}

	order := make([]int, split.Len())
	for i := range order {
		order[i] = i
	}

	return &Loader{
		split:     split,
		batchSize: batchSize,
		order:     order,
	}, nil
}

// NumBatches はバッチ数を返す（最終バッチは端数になりうる）
func (l *Loader) NumBatches() int {
	return (l.split.Len() + l.batchSize - 1) / l.batchSize
}

// Shuffle はバッチ分割前のサンプル順序をシャッフルする
func (l *Loader) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

// Batch は i 番目のバッチを読み込み、画像をデコードして返す。
// 不正な画像ファイルはエラーとして呼び出し元へ伝播する（ラン全体の中断につながる）
func (l *Loader) Batch(i int) (*Batch, error) {
	if i < 0 || i >= l.NumBatches() {
		return nil, fmt.Errorf("%w: %d of %d", ErrBatchOutOfRange, i, l.NumBatches())
	}

	start := i * l.batchSize
	end := start + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}

	batch := &Batch{
		Images: make([]image.Image, 0, end-start),
		Labels: make([]int, 0, end-start),
		Hashes: make([]string, 0, end-start),
		Paths:  make([]string, 0, end-start),
	}

	for _, idx := range l.order[start:end] {
		sample := l.split.Samples[idx]

		data, err := os.ReadFile(sample.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", sample.Path, err)
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %s: %w", sample.Path, err)
		}

		sum := sha256.Sum256(data)

		batch.Images = append(batch.Images, img)
		batch.Labels = append(batch.Labels, sample.Label)
		batch.Hashes = append(batch.Hashes, hex.EncodeToString(sum[:]))
		batch.Paths = append(batch.Paths, sample.Path)
	}

	return batch, nil
}
