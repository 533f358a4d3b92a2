package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackerServer は受け取ったリクエストを記録するテスト用サーバ
type trackerServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	failures int // 最初のN回を500で失敗させる
}

type recordedRequest struct {
	path string
	auth string
	body map[string]any
}

func (s *trackerServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.requests = append(s.requests, recordedRequest{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			body: body,
		})

		if s.failures > 0 {
			s.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("http://localhost", "")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestClientRunLifecycle(t *testing.T) {
	backend := &trackerServer{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client, err := NewClient(server.URL, "test-key")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Start(ctx, "mulsi-clf", map[string]any{"lr": 1e-5}))
	require.NoError(t, client.Log(ctx, map[string]float64{"train_loss": 0.7}))
	require.NoError(t, client.Log(ctx, map[string]float64{"val_loss": 0.5}))
	require.NoError(t, client.Finish(ctx))

	require.Len(t, backend.requests, 4)
	assert.Equal(t, "/api/projects/mulsi-clf/runs", backend.requests[0].path)
	assert.Equal(t, "Bearer test-key", backend.requests[0].auth)

	// Log はステップを単調増加で採番する
	assert.Equal(t, float64(1), backend.requests[1].body["step"])
	assert.Equal(t, float64(2), backend.requests[2].body["step"])
}

func TestClientLogBeforeStart(t *testing.T) {
	client, err := NewClient("http://localhost", "test-key")
	require.NoError(t, err)

	err = client.Log(context.Background(), map[string]float64{"train_loss": 1})
	assert.ErrorIs(t, err, ErrRunNotStarted)
}

func TestClientStartTwice(t *testing.T) {
	backend := &trackerServer{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client, err := NewClient(server.URL, "test-key")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Start(ctx, "mulsi-clf", nil))
	assert.ErrorIs(t, client.Start(ctx, "mulsi-clf", nil), ErrRunAlreadyStarted)
}

// 未開始の Finish は何もしない（エラー経路から無条件に呼べる）
func TestClientFinishWithoutStart(t *testing.T) {
	client, err := NewClient("http://localhost", "test-key")
	require.NoError(t, err)

	assert.NoError(t, client.Finish(context.Background()))
}

// サーバエラーはリトライで回復する
func TestClientRetriesOnServerError(t *testing.T) {
	backend := &trackerServer{failures: 2}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client, err := NewClient(server.URL, "test-key")
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background(), "mulsi-clf", nil))
	assert.Len(t, backend.requests, 3)
}

// 4xx（レート制限以外）はリトライせず即座に失敗する
func TestClientDoesNotRetryClientError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "test-key")
	require.NoError(t, err)

	err = client.Start(context.Background(), "mulsi-clf", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 1, calls)
}
