package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/clf-train/internal/core/training"
)

const (
	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second

	// MaxRetries はレート制限・サーバエラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 1 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 16 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("tracker API key not set: please set TRACKER_API_KEY environment variable")

	// ErrRunNotStarted はラン開始前にメトリクス送信が呼ばれた場合のエラー
	ErrRunNotStarted = errors.New("tracker run not started")

	// ErrRunAlreadyStarted は開始済みのクライアントで再度 Start が呼ばれた場合のエラー
	ErrRunAlreadyStarted = errors.New("tracker run already started")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("tracker max retries exceeded")
)

// APIError はトラッカーAPIが返した非2xxレスポンスを表す
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker API error: status %d: %s", e.StatusCode, e.Body)
}

// Client は実験トラッカーのHTTPクライアント実装。
// ランは Start で作成し、エラー経路を含むすべての経路で Finish により解放する
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	runID uuid.UUID
	step  int
}

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithTimeout はAPIコールのタイムアウトを上書きする
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// NewClient は新しい Client を作成する
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.timeout}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}, nil
}

type startRequest struct {
	RunID   uuid.UUID      `json:"run_id"`
	Config  map[string]any `json:"config"`
	Started time.Time      `json:"started_at"`
}

type logRequest struct {
	Step    int                `json:"step"`
	Metrics map[string]float64 `json:"metrics"`
}

// Start はプロジェクト配下に新しいランを作成する
func (c *Client) Start(ctx context.Context, project string, config map[string]any) error {
	if c.runID != uuid.Nil {
		return ErrRunAlreadyStarted
	}

	runID := uuid.New()
	body := startRequest{
		RunID:   runID,
		Config:  config,
		Started: time.Now().UTC(),
	}

	path := fmt.Sprintf("/api/projects/%s/runs", project)
	if err := c.post(ctx, path, body); err != nil {
		return fmt.Errorf("failed to create tracker run: %w", err)
	}

	c.runID = runID
	c.step = 0
	return nil
}

// Log はメトリクスを1ステップ分記録する
func (c *Client) Log(ctx context.Context, metrics map[string]float64) error {
	if c.runID == uuid.Nil {
		return ErrRunNotStarted
	}

	c.step++
	body := logRequest{
		Step:    c.step,
		Metrics: metrics,
	}

	path := fmt.Sprintf("/api/runs/%s/metrics", c.runID)
	if err := c.post(ctx, path, body); err != nil {
		return fmt.Errorf("failed to log metrics: %w", err)
	}
	return nil
}

// Finish はランを終了する。未開始の場合は何もしない
func (c *Client) Finish(ctx context.Context) error {
	if c.runID == uuid.Nil {
		return nil
	}

	path := fmt.Sprintf("/api/runs/%s/finish", c.runID)
	err := c.post(ctx, path, struct{}{})
	c.runID = uuid.Nil
	if err != nil {
		return fmt.Errorf("failed to finish tracker run: %w", err)
	}
	return nil
}

// post はリトライつきでJSONボディをPOSTする
func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * BaseBackoff
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if isRetryable(resp.StatusCode) {
			lastErr = apiErr
			continue
		}
		return apiErr
	}

	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// インターフェース実装の確認
var _ training.Tracker = (*Client)(nil)
