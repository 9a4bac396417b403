package provider

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muse/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithBackoff(time.Millisecond),
		WithLogger(logging.Nop()),
	)
	return c, srv
}

func TestGenerateImage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/image_generation", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"data": {"image_urls": ["https://cdn.example.com/a.png"]},
			"base_resp": {"status_code": 0, "status_msg": "success"}
		}`))
	}))

	res, err := c.GenerateImage(context.Background(), &ImageRequest{Model: "image-01", Prompt: "a red circle"})
	require.NoError(t, err)
	require.Len(t, res.URLs, 1)
	assert.Equal(t, "https://cdn.example.com/a.png", res.URLs[0])
}

func TestAPIErrorInBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base_resp": {"status_code": 2013, "status_msg": "invalid params"}}`))
	}))

	_, err := c.GenerateImage(context.Background(), &ImageRequest{Model: "image-01", Prompt: ""})
	require.Error(t, err)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 2013, apiErr.Code)
	assert.False(t, apiErr.Retryable())
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"data": {"image_urls": ["https://cdn.example.com/b.png"]}}`))
	}))

	res, err := c.GenerateImage(context.Background(), &ImageRequest{Model: "image-01", Prompt: "retry me"})
	require.NoError(t, err)
	assert.Len(t, res.URLs, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestAuthErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"base_resp": {"status_code": 1001, "status_msg": "invalid api key"}}`))
	}))

	_, err := c.GenerateImage(context.Background(), &ImageRequest{Model: "image-01", Prompt: "x"})
	require.Error(t, err)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsAuth())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSynthesizeDecodesHexAudio(t *testing.T) {
	audio := []byte("fake-mp3-bytes")
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/t2a_v2", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": {"audio": "` + hex.EncodeToString(audio) + `"}}`))
	}))

	res, err := c.Synthesize(context.Background(), &SpeechRequest{Model: "speech-02-hd", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, audio, res.Audio)
	assert.Equal(t, "mp3", res.Format)
}

func TestVideoSubmitAndQuery(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/video_generation":
			_, _ = w.Write([]byte(`{"task_id": "prov-123"}`))
		case "/v1/query/video_generation":
			assert.Equal(t, "prov-123", r.URL.Query().Get("task_id"))
			_, _ = w.Write([]byte(`{"task_id": "prov-123", "status": "Success", "file_id": "f-9", "video_width": 1280, "video_height": 720}`))
		case "/v1/files/retrieve":
			assert.Equal(t, "f-9", r.URL.Query().Get("file_id"))
			_, _ = w.Write([]byte(`{"file": {"download_url": "https://cdn.example.com/out.mp4"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	handle, err := c.SubmitVideo(context.Background(), &VideoRequest{Model: "video-01", Prompt: "ocean waves"})
	require.NoError(t, err)
	assert.Equal(t, "prov-123", handle)

	status, err := c.QueryVideo(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusSuccess, status.Status)
	assert.True(t, status.Status.Terminal())
	assert.Equal(t, "https://cdn.example.com/out.mp4", status.DownloadURL)
	assert.Equal(t, 1280, status.Width)
}

func TestQueryVideoStillProcessing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task_id": "prov-123", "status": "Processing"}`))
	}))

	status, err := c.QueryVideo(context.Background(), "prov-123")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusProcessing, status.Status)
	assert.False(t, status.Status.Terminal())
	assert.Empty(t, status.DownloadURL)
}
