package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"http://example.com/a", "http://example.com/a"},
		{"https://example.com", "https://example.com"},
		{"  example.com/path?q=1 ", "https://example.com/path?q=1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestRead_PrefixesScheme(t *testing.T) {
	var gotPath string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("Example Domain"))
	}))
	defer proxy.Close()

	text, err := New(Config{ProxyURL: proxy.URL}).Read(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", text)
	assert.Equal(t, "/https://example.com", gotPath)
}

func TestRead_SendsAPIKey(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer proxy.Close()

	_, err := New(Config{ProxyURL: proxy.URL + "/", APIKey: "secret"}).Read(context.Background(), "https://example.com")
	require.NoError(t, err)
}

func TestRead_NonSuccessIsFetchError(t *testing.T) {
	var hits atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "rate limited", http.StatusServiceUnavailable)
	}))
	defer proxy.Close()

	_, err := New(Config{ProxyURL: proxy.URL}).Read(context.Background(), "example.com")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	assert.Equal(t, "rate limited", fetchErr.Body)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRead_EmptyURL(t *testing.T) {
	_, err := New(Config{}).Read(context.Background(), " ")
	assert.Error(t, err)
}
