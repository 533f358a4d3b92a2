package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/clf-train/internal/core/training"
)

// EmbeddingCache は計算済み埋め込みをpgvectorカラムへ保存するキャッシュ。
// キーは (抽出器モデル名, 画像内容のSHA-256)。純粋な最適化であり、
// キャッシュの有無で学習結果は変わらない
type EmbeddingCache struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewEmbeddingCache はスキーマを保証した上でキャッシュを作成する
func NewEmbeddingCache(ctx context.Context, pool *pgxpool.Pool, dimension int) (*EmbeddingCache, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding cache dimension must be positive, got %d", dimension)
	}

	cache := &EmbeddingCache{pool: pool, dimension: dimension}
	if err := cache.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return cache, nil
}

func (c *EmbeddingCache) ensureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to ensure pgvector extension: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			model TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (model, content_hash)
		)`, c.dimension)
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure embedding_cache table: %w", err)
	}

	return nil
}

// Get はキャッシュ済み埋め込みを取得する。2番目の戻り値はヒットの有無
func (c *EmbeddingCache) Get(ctx context.Context, model, contentHash string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := c.pool.QueryRow(ctx,
		"SELECT embedding FROM embedding_cache WHERE model = $1 AND content_hash = $2",
		model, contentHash,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query embedding cache: %w", err)
	}

	return vec.Slice(), true, nil
}

// Put は埋め込みをキャッシュへ保存する。既存キーは上書きしない
func (c *EmbeddingCache) Put(ctx context.Context, model, contentHash string, embedding []float32) error {
	if len(embedding) != c.dimension {
		return fmt.Errorf("embedding has dim %d, cache expects %d", len(embedding), c.dimension)
	}

	_, err := c.pool.Exec(ctx,
		"INSERT INTO embedding_cache (model, content_hash, embedding) VALUES ($1, $2, $3) ON CONFLICT (model, content_hash) DO NOTHING",
		model, contentHash, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	return nil
}

// インターフェース実装の確認
var _ training.EmbeddingCache = (*EmbeddingCache)(nil)
