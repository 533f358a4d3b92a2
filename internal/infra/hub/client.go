package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinford/clf-train/internal/core/training"
)

const (
	// DefaultBaseURL はハブAPIのデフォルトエンドポイント
	DefaultBaseURL = "https://huggingface.co"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト。
	// スナップショットのファイル取得もこのタイムアウトの対象になる
	DefaultTimeout = 300 * time.Second

	// DefaultRevision は参照するリビジョン
	DefaultRevision = "main"
)

var (
	// ErrTokenNotSet はハブのトークンが設定されていない場合のエラー
	ErrTokenNotSet = errors.New("hub token not set: please set HUB_TOKEN environment variable")

	// ErrRepoNotFound はリポジトリが存在しない場合のエラー
	ErrRepoNotFound = errors.New("hub repository not found")
)

// APIError はハブAPIが返した非2xxレスポンスを表す
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub API error: status %d: %s", e.StatusCode, e.Body)
}

// Client はデータセットのスナップショット取得とアーティファクト公開を行うハブクライアント
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithBaseURL はエンドポイントを差し替える
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// NewClient は新しい Client を作成する
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, ErrTokenNotSet
	}

	options := clientOptions{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&options)
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(options.baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}, nil
}

// treeEntry はリポジトリツリーAPIの1エントリ
type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// SnapshotDownload はデータセットリポジトリの全ファイルをローカルディレクトリへ取得する。
// localDir がすでに存在する場合、force が false なら何もしない
func (c *Client) SnapshotDownload(ctx context.Context, repoID, localDir string, force bool) error {
	if !force {
		if _, err := os.Stat(localDir); err == nil {
			return nil
		}
	}

	entries, err := c.listTree(ctx, repoID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Type != "file" {
			continue
		}
		if err := c.downloadFile(ctx, repoID, entry.Path, filepath.Join(localDir, filepath.FromSlash(entry.Path))); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) listTree(ctx context.Context, repoID string) ([]treeEntry, error) {
	treeURL := fmt.Sprintf("%s/api/datasets/%s/tree/%s?recursive=true", c.baseURL, repoID, DefaultRevision)

	resp, err := c.get(ctx, treeURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse repository tree: %w", err)
	}

	return entries, nil
}

func (c *Client) downloadFile(ctx context.Context, repoID, remotePath, localPath string) error {
	fileURL := fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", c.baseURL, repoID, DefaultRevision, (&url.URL{Path: remotePath}).EscapedPath())

	resp, err := c.get(ctx, fileURL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	return nil
}

// commitHeader と commitFile はコミットAPIのNDJSON行
type commitHeader struct {
	Summary string `json:"summary"`
}

type commitFile struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

type commitLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// UploadFile はローカルファイルをデータセットリポジトリ内の指定パスへコミットする
func (c *Client) UploadFile(ctx context.Context, localPath, repoID, pathInRepo string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", localPath, err)
	}

	var body strings.Builder
	encoder := json.NewEncoder(&body)
	if err := encoder.Encode(commitLine{Key: "header", Value: commitHeader{
		Summary: fmt.Sprintf("Upload %s", pathInRepo),
	}}); err != nil {
		return fmt.Errorf("failed to encode commit header: %w", err)
	}
	if err := encoder.Encode(commitLine{Key: "file", Value: commitFile{
		Content:  base64.StdEncoding.EncodeToString(data),
		Path:     pathInRepo,
		Encoding: "base64",
	}}); err != nil {
		return fmt.Errorf("failed to encode commit file: %w", err)
	}

	commitURL := fmt.Sprintf("%s/api/datasets/%s/commit/%s", c.baseURL, repoID, DefaultRevision)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, commitURL, strings.NewReader(body.String()))
	if err != nil {
		return fmt.Errorf("failed to build commit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commit request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("failed to commit %s to %s: %w", pathInRepo, repoID, err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrRepoNotFound, resp.Request.URL)
	}

	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}

// インターフェース実装の確認
var _ training.Publisher = (*Client)(nil)
