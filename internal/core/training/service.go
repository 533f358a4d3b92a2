package training

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/clf-train/internal/core/dataset"
)

// TrainService は凍結済み特徴抽出器の上で分類器ヘッドを学習するユースケースを提供する。
// バッチ・スプリット・エポックはすべて単一の論理スレッドで逐次処理され、
// いずれかのステップの失敗はラン全体の中断となる（部分リカバリなし）
type TrainService struct {
	extractor FeatureExtractor
	tracker   Tracker
	publisher Publisher
	cache     EmbeddingCache // オプショナル
	assetsDir string
	rng       *rand.Rand
	logger    *slog.Logger
}

type trainServiceOptions struct {
	cache     EmbeddingCache
	assetsDir string
	seed      int64
	seeded    bool
	logger    *slog.Logger
}

// TrainServiceOption は TrainService のオプション設定
type TrainServiceOption func(*trainServiceOptions)

// WithTrainLogger は TrainService にロガーを設定する
func WithTrainLogger(logger *slog.Logger) TrainServiceOption {
	return func(o *trainServiceOptions) {
		o.logger = logger
	}
}

// WithEmbeddingCache は埋め込みキャッシュを設定する
func WithEmbeddingCache(cache EmbeddingCache) TrainServiceOption {
	return func(o *trainServiceOptions) {
		o.cache = cache
	}
}

// WithAssetsDir はチェックポイント出力先ディレクトリを上書きする
func WithAssetsDir(dir string) TrainServiceOption {
	return func(o *trainServiceOptions) {
		o.assetsDir = dir
	}
}

// WithShuffleSeed はシャッフルとヘッド初期化の乱数シードを固定する
func WithShuffleSeed(seed int64) TrainServiceOption {
	return func(o *trainServiceOptions) {
		o.seed = seed
		o.seeded = true
	}
}

// NewTrainService は新しい TrainService を作成する
func NewTrainService(extractor FeatureExtractor, tracker Tracker, publisher Publisher, opts ...TrainServiceOption) *TrainService {
	options := trainServiceOptions{
		assetsDir: "assets",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if options.seeded {
		rng = rand.New(rand.NewSource(options.seed))
	}

	return &TrainService{
		extractor: extractor,
		tracker:   tracker,
		publisher: publisher,
		cache:     options.cache,
		assetsDir: options.assetsDir,
		rng:       rng,
		logger:    options.logger,
	}
}

// Run はデータセットに対して設定どおりの学習ランを実行する。
// エポックごとに TRAIN（シャッフル済みバッチで勾配更新）→ EVAL（固定順バッチで損失のみ）を繰り返し、
// 全エポック完了後にチェックポイントを書き出してハブへアップロードする
func (s *TrainService) Run(ctx context.Context, ds *dataset.Dataset, cfg RunConfig) (result *RunResult, err error) {
	startTime := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	head, err := s.newHead(ds.Classes)
	if err != nil {
		return nil, err
	}

	trainLoader, err := dataset.NewLoader(ds.Train, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	valLoader, err := dataset.NewLoader(ds.Validation, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	s.logger.Info("学習ランを開始",
		"run_id", runID,
		"model", cfg.ModelName,
		"dataset", cfg.DatasetName,
		"classes", len(ds.Classes),
		"train_samples", ds.Train.Len(),
		"validation_samples", ds.Validation.Len(),
	)

	if err := s.tracker.Start(ctx, ProjectName, cfg.TrackerConfig()); err != nil {
		return nil, fmt.Errorf("failed to start tracker run: %w", err)
	}
	// ランはエラー経路を含むすべての経路で解放する
	defer func() {
		if ferr := s.tracker.Finish(context.WithoutCancel(ctx)); ferr != nil {
			s.logger.Error("トラッカーのラン終了に失敗しました", "error", ferr)
			if err == nil {
				err = fmt.Errorf("failed to finish tracker run: %w", ferr)
				result = nil
			}
		}
	}()

	opt := NewAdam(head)
	steps := 0
	valLosses := make([]float64, 0, cfg.Epochs)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		// TRAIN
		trainLoader.Shuffle(s.rng)
		for b := 0; b < trainLoader.NumBatches(); b++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			batch, err := trainLoader.Batch(b)
			if err != nil {
				return nil, err
			}

			embeddings, err := s.embed(ctx, batch)
			if err != nil {
				return nil, err
			}

			head.ZeroGrad()
			loss, err := head.Backward(embeddings, batch.Labels)
			if err != nil {
				return nil, err
			}
			opt.Step(head, cfg.LearningRate)
			steps++

			if err := s.tracker.Log(ctx, map[string]float64{"train_loss": loss}); err != nil {
				return nil, fmt.Errorf("failed to log train loss: %w", err)
			}
		}

		// EVAL: パラメータ更新も勾配計算もしない
		total := 0.0
		numBatches := valLoader.NumBatches()
		for b := 0; b < numBatches; b++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			batch, err := valLoader.Batch(b)
			if err != nil {
				return nil, err
			}

			embeddings, err := s.embed(ctx, batch)
			if err != nil {
				return nil, err
			}

			loss, err := head.Loss(embeddings, batch.Labels)
			if err != nil {
				return nil, err
			}
			total += loss
		}

		// 端数になりうる最終バッチもバッチ数1として数える単純平均
		valLoss := total / float64(numBatches)
		valLosses = append(valLosses, valLoss)

		if err := s.tracker.Log(ctx, map[string]float64{"val_loss": valLoss}); err != nil {
			return nil, fmt.Errorf("failed to log validation loss: %w", err)
		}

		s.logger.Info("エポック完了", "epoch", epoch+1, "epochs", cfg.Epochs, "val_loss", valLoss)
	}

	// DONE: チェックポイントを書き出してアップロード
	checkpointPath := filepath.Join(s.assetsDir, CheckpointFileName)
	if err := SaveCheckpoint(checkpointPath, head.Checkpoint(cfg.ModelName)); err != nil {
		return nil, err
	}

	if err := s.publisher.UploadFile(ctx, checkpointPath, cfg.ArtifactRepoID(), cfg.ArtifactPath()); err != nil {
		return nil, fmt.Errorf("failed to upload checkpoint: %w", err)
	}

	s.logger.Info("学習ランが完了しました",
		"run_id", runID,
		"steps", steps,
		"checkpoint", checkpointPath,
		"artifact_repo", cfg.ArtifactRepoID(),
		"duration", time.Since(startTime),
	)

	return &RunResult{
		RunID:            runID,
		Steps:            steps,
		ValidationLosses: valLosses,
		CheckpointPath:   checkpointPath,
		Duration:         time.Since(startTime),
	}, nil
}

// newHead は抽出器の次元とクラス語彙からヘッドを初期化する
func (s *TrainService) newHead(classes []string) (*Head, error) {
	return NewHeadWithSeed(s.extractor.Dimension(), classes, s.rng.Int63())
}

// embed はバッチの埋め込みを計算する。キャッシュが設定されていればヒット分の抽出を省略する
func (s *TrainService) embed(ctx context.Context, batch *dataset.Batch) ([][]float32, error) {
	if s.cache == nil {
		return s.extractor.ExtractBatch(ctx, batch.Images)
	}

	model := s.extractor.ModelName()
	embeddings := make([][]float32, batch.Len())

	var missIndexes []int
	var missImages []image.Image
	for i, hash := range batch.Hashes {
		cached, ok, err := s.cache.Get(ctx, model, hash)
		if err != nil {
			return nil, fmt.Errorf("embedding cache lookup failed: %w", err)
		}
		if ok {
			embeddings[i] = cached
			continue
		}
		missIndexes = append(missIndexes, i)
		missImages = append(missImages, batch.Images[i])
	}

	if len(missIndexes) == 0 {
		return embeddings, nil
	}

	computed, err := s.extractor.ExtractBatch(ctx, missImages)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missIndexes) {
		return nil, fmt.Errorf("extractor returned %d embeddings for %d images", len(computed), len(missIndexes))
	}

	for k, i := range missIndexes {
		embeddings[i] = computed[k]
		if err := s.cache.Put(ctx, model, batch.Hashes[i], computed[k]); err != nil {
			return nil, fmt.Errorf("embedding cache store failed: %w", err)
		}
	}

	return embeddings, nil
}
