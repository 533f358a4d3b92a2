package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/clf-train/internal/core/training"
	"github.com/jinford/clf-train/internal/infra/hub"
	"github.com/jinford/clf-train/internal/infra/onnx"
	"github.com/jinford/clf-train/internal/infra/postgres"
	"github.com/jinford/clf-train/internal/infra/tracker"
	"github.com/jinford/clf-train/internal/platform/config"
	"github.com/jinford/clf-train/internal/platform/database"
)

// Container はアプリケーションの依存関係を保持する。
// 外部コラボレータ（抽出器・トラッカー・ハブ・キャッシュ）はオプションで差し替え可能
type Container struct {
	TrainService *training.TrainService

	extractor interface{ Close() }
	database  *database.Database
	logger    *slog.Logger
}

type containerOptions struct {
	logger    *slog.Logger
	extractor training.FeatureExtractor
	trk       training.Tracker
	publisher training.Publisher
	cache     training.EmbeddingCache
	seed      int64
	seeded    bool
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithExtractor はカスタム特徴抽出器を注入する
func WithExtractor(extractor training.FeatureExtractor) Option {
	return func(opts *containerOptions) {
		opts.extractor = extractor
	}
}

// WithTracker はトラッカーを差し替える
func WithTracker(trk training.Tracker) Option {
	return func(opts *containerOptions) {
		opts.trk = trk
	}
}

// WithPublisher はアーティファクト公開先を差し替える
func WithPublisher(publisher training.Publisher) Option {
	return func(opts *containerOptions) {
		opts.publisher = publisher
	}
}

// WithCache は埋め込みキャッシュを差し替える
func WithCache(cache training.EmbeddingCache) Option {
	return func(opts *containerOptions) {
		opts.cache = cache
	}
}

// WithSeed はシャッフルと初期化の乱数シードを固定する
func WithSeed(seed int64) Option {
	return func(opts *containerOptions) {
		opts.seed = seed
		opts.seeded = true
	}
}

// New は設定からコンテナを生成する
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &Container{logger: options.logger}

	// FeatureExtractor (ONNX)
	extractor := options.extractor
	if extractor == nil {
		onnxExtractor, err := onnx.NewExtractor(cfg.Extractor.ModelPath, cfg.Extractor.MetadataPath)
		if err != nil {
			return nil, fmt.Errorf("特徴抽出器の初期化に失敗しました: %w", err)
		}
		extractor = onnxExtractor
		c.extractor = onnxExtractor
	}

	// Tracker
	trk := options.trk
	if trk == nil {
		client, err := tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.APIKey)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("トラッカーの初期化に失敗しました: %w", err)
		}
		trk = client
	}

	// Publisher (Hub)
	publisher := options.publisher
	if publisher == nil {
		client, err := hub.NewClient(cfg.Hub.Token, hub.WithBaseURL(cfg.Hub.BaseURL))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("ハブクライアントの初期化に失敗しました: %w", err)
		}
		publisher = client
	}

	// EmbeddingCache (任意)
	cache := options.cache
	if cache == nil && cfg.Database.Enabled {
		db, err := database.New(ctx, database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.database = db

		cache, err = postgres.NewEmbeddingCache(ctx, db.Pool, extractor.Dimension())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("埋め込みキャッシュの初期化に失敗しました: %w", err)
		}
	}

	serviceOpts := []training.TrainServiceOption{
		training.WithTrainLogger(options.logger),
		training.WithAssetsDir(cfg.AssetsDir),
	}
	if cache != nil {
		serviceOpts = append(serviceOpts, training.WithEmbeddingCache(cache))
	}
	if options.seeded {
		serviceOpts = append(serviceOpts, training.WithShuffleSeed(options.seed))
	}

	c.TrainService = training.NewTrainService(extractor, trk, publisher, serviceOpts...)

	return c, nil
}

// Logger はコンテナのロガーを返す
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Close はコンテナが保持するリソースをクリーンアップする
func (c *Container) Close() {
	if c.extractor != nil {
		c.extractor.Close()
	}
	if c.database != nil {
		c.database.Close()
	}
}
