package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGenerate(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Prompt
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "  Low risk request.  "})
	}))
	defer srv.Close()

	text, err := NewHTTP(srv.URL, time.Second).Generate(context.Background(), "explain")
	require.NoError(t, err)
	assert.Equal(t, "Low risk request.", text)
	assert.Equal(t, "explain", gotPrompt)
}

func TestHTTPGenerateUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"empty text", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"text":"   "}`))
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
		{"too slow", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTP(srv.URL, 50*time.Millisecond).Generate(context.Background(), "explain")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Generate(context.Background(), "explain")
	assert.ErrorIs(t, err, ErrUnavailable)
}
