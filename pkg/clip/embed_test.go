package clip

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retina-search/retina/engine/domain"
)

func embedServer(t *testing.T, wantPath string, handler func(body map[string]any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(handler(body))
	}))
}

func TestEmbedText(t *testing.T) {
	srv := embedServer(t, "/embed/text", func(body map[string]any) any {
		if body["text"] != "a tabby cat" {
			t.Errorf("text = %v", body["text"])
		}
		if body["model"] != "ViT-B-32" {
			t.Errorf("model = %v", body["model"])
		}
		return map[string]any{"embedding": []float64{0.1, 0.2, 0.3}}
	})
	defer srv.Close()

	vec, err := New(srv.URL, "ViT-B-32").EmbedText(context.Background(), "a tabby cat")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(vec) != 3 || vec[1] != float32(0.2) {
		t.Fatalf("vector = %v", vec)
	}
}

func TestEmbedImage(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := embedServer(t, "/embed/image", func(body map[string]any) any {
		decoded, err := base64.StdEncoding.DecodeString(body["image"].(string))
		if err != nil || string(decoded) != string(raw) {
			t.Errorf("image payload not base64 of the raw bytes")
		}
		return map[string]any{"embedding": []float64{1, 0}}
	})
	defer srv.Close()

	vec, err := New(srv.URL, "").EmbedImage(context.Background(), raw)
	if err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("vector = %v", vec)
	}
}

func TestEmbedErrorsWrapSentinel(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("{not json"))
		}},
		{"empty embedding", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := New(srv.URL, "").EmbedText(context.Background(), "cat")
			if !errors.Is(err, domain.ErrEmbedding) {
				t.Fatalf("err = %v, want ErrEmbedding", err)
			}
		})
	}
}

func TestEmbedUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err := New(srv.URL, "").EmbedText(context.Background(), "cat")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}
