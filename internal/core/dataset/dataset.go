package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// TrainSplitName は学習スプリットのディレクトリ名
	TrainSplitName = "train"

	// ValidationSplitName は検証スプリットのディレクトリ名
	ValidationSplitName = "validation"
)

var (
	// ErrSplitNotFound はスプリットディレクトリが存在しない場合のエラー
	ErrSplitNotFound = errors.New("split directory not found")

	// ErrEmptySplit はスプリットに画像が1枚もない場合のエラー
	ErrEmptySplit = errors.New("split contains no images")

	// ErrUnknownClass は学習スプリットの語彙に含まれないクラスが現れた場合のエラー。
	// クラス語彙は学習スプリットのみから構築される閉じた集合として扱う
	ErrUnknownClass = errors.New("class not present in training vocabulary")
)

// Sample はデータセット内の1枚の画像と、その文字列クラスおよび整数ラベルを表す
type Sample struct {
	Path  string // 画像ファイルの絶対パス
	Class string // 文字列クラス名（ディレクトリ名）
	Label int    // クラス語彙への添字
}

// Split はひとつのデータセットスプリット（train / validation）を表す
type Split struct {
	Name    string
	Samples []Sample
}

// Len はスプリット内のサンプル数を返す
func (s *Split) Len() int {
	return len(s.Samples)
}

// Dataset はimagefolderレイアウトのラベル付き画像データセット。
// レイアウト: <root>/<split>/<class>/<image>
type Dataset struct {
	Root       string
	Classes    []string // ソート済みクラス語彙（学習スプリット由来）
	Train      *Split
	Validation *Split
}

// Load はスナップショットディレクトリからデータセットを読み込む。
// クラス語彙は学習スプリットのクラスディレクトリ名をソートしたもので、
// 検証スプリットに語彙外のクラスがあればエラーを返す
func Load(root string) (*Dataset, error) {
	trainDir := filepath.Join(root, TrainSplitName)
	classes, err := listClasses(trainDir)
	if err != nil {
		return nil, err
	}

	vocab := make(map[string]int, len(classes))
	for i, name := range classes {
		vocab[name] = i
	}

	train, err := loadSplit(trainDir, TrainSplitName, vocab)
	if err != nil {
		return nil, err
	}

	validation, err := loadSplit(filepath.Join(root, ValidationSplitName), ValidationSplitName, vocab)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Root:       root,
		Classes:    classes,
		Train:      train,
		Validation: validation,
	}, nil
}

// listClasses はスプリットディレクトリ直下のクラスディレクトリ名をソートして返す
func listClasses(splitDir string) ([]string, error) {
	entries, err := os.ReadDir(splitDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSplitNotFound, splitDir)
		}
		return nil, fmt.Errorf("failed to read split directory %s: %w", splitDir, err)
	}

	var classes []string
	for _, entry := range entries {
		if entry.IsDir() {
			classes = append(classes, entry.Name())
		}
	}
	sort.Strings(classes)
	return classes, nil
}

// loadSplit はスプリット内の全画像を列挙し、語彙でラベル付けする
func loadSplit(splitDir, name string, vocab map[string]int) (*Split, error) {
	entries, err := os.ReadDir(splitDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSplitNotFound, splitDir)
		}
		return nil, fmt.Errorf("failed to read split directory %s: %w", splitDir, err)
	}

	split := &Split{Name: name}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		class := entry.Name()
		label, ok := vocab[class]
		if !ok {
			return nil, fmt.Errorf("%w: %q in split %s", ErrUnknownClass, class, name)
		}

		classDir := filepath.Join(splitDir, class)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read class directory %s: %w", classDir, err)
		}

		for _, file := range files {
			if file.IsDir() || !isImageFile(file.Name()) {
				continue
			}
			split.Samples = append(split.Samples, Sample{
				Path:  filepath.Join(classDir, file.Name()),
				Class: class,
				Label: label,
			})
		}
	}

	if len(split.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySplit, splitDir)
	}

	return split, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
