package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docparser/internal/common"
)

func TestExtractSendsImage(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff, 0xe0}
	path := filepath.Join(t.TempDir(), "page_0001.jpg")
	require.NoError(t, os.WriteFile(path, img, 0o644))

	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "INVOICE 42"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", VisionModel: "vision", StructuringModel: "text"}, nil)
	out, err := c.Extract(context.Background(), path, "read it")
	require.NoError(t, err)

	assert.Equal(t, "INVOICE 42", out)
	assert.Equal(t, "vision", got.Model)
	assert.Equal(t, "read it", got.Prompt)
	assert.False(t, got.Stream)
	require.Len(t, got.Images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img), got.Images[0])
}

func TestCompleteUsesStructuringModel(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"a":1}`})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VisionModel: "vision", StructuringModel: "text"}, nil)
	out, err := c.Complete(context.Background(), "structure")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
	assert.Equal(t, "text", got.Model)
	assert.Empty(t, got.Images)
}

func TestNon2xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VisionModel: "m"}, nil)
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
	assert.Contains(t, err.Error(), "503")
}

func TestTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, VisionModel: "m", Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}

func TestHealthAndModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llava:latest"},{"name":"qwen3-vl:235b-cloud"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VisionModel: "m"}, nil)
	require.NoError(t, c.Health(context.Background()))

	ok, err := c.HasModel(context.Background(), "llava")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasModel(context.Background(), "phi-4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, VisionModel: "m", Timeout: time.Second}, nil)
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}
