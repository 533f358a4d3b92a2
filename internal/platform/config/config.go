package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// アセット出力先（チェックポイント、データセットスナップショット）
	AssetsDir string

	// ハブ設定（データセット取得とアーティファクト公開）
	Hub HubConfig

	// 実験トラッカー設定
	Tracker TrackerConfig

	// 特徴抽出器（ONNX）設定
	Extractor ExtractorConfig

	// 埋め込みキャッシュ用データベース設定（任意）
	Database DatabaseConfig
}

// HubConfig はモデル/データセットハブのAPI設定
type HubConfig struct {
	BaseURL string
	Token   string
}

// TrackerConfig は実験トラッカーのAPI設定
type TrackerConfig struct {
	BaseURL string
	APIKey  string
}

// ExtractorConfig はONNXエクスポート済みビジョンタワーの設定
type ExtractorConfig struct {
	ModelPath    string
	MetadataPath string
}

// DatabaseConfig は埋め込みキャッシュ用のデータベース接続設定。
// Enabled が false の場合キャッシュは使われない
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	assetsDir := getEnv("ASSETS_DIR", "assets")

	cfg := &Config{
		AssetsDir: assetsDir,
		Hub: HubConfig{
			BaseURL: getEnv("HUB_BASE_URL", "https://huggingface.co"),
			Token:   getEnv("HUB_TOKEN", ""),
		},
		Tracker: TrackerConfig{
			BaseURL: getEnv("TRACKER_BASE_URL", ""),
			APIKey:  getEnv("TRACKER_API_KEY", ""),
		},
		Extractor: ExtractorConfig{
			ModelPath:    getEnv("ONNX_MODEL_PATH", filepath.Join(assetsDir, "vision_tower.onnx")),
			MetadataPath: getEnv("ONNX_METADATA_PATH", filepath.Join(assetsDir, "vision_tower.json")),
		},
		Database: DatabaseConfig{
			Enabled:  os.Getenv("DB_HOST") != "",
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "clftrain"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "clftrain"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}

	return cfg, nil
}

// SnapshotDir はデータセット識別子に対応するローカルスナップショットのパスを返す
func (c *Config) SnapshotDir(datasetName string) string {
	return filepath.Join(c.AssetsDir, filepath.FromSlash(datasetName))
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
