package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := make([][]float32, len(req.Texts))
		for i := range out {
			out[i] = make([]float32, Dimensions)
			out[i][0] = float32(i)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "secret")
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("unexpected vectors: %d", len(vecs))
	}
}

func TestClientRejectsWrongDimensions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings": [[1, 2, 3]]}`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected status error")
	}
}

func TestNew(t *testing.T) {
	if _, ok := New("", "").(Noop); !ok {
		t.Error("empty endpoint should give Noop")
	}
	if vecs, err := (Noop{}).Embed(context.Background(), []string{"x"}); vecs != nil || err != nil {
		t.Errorf("Noop.Embed = %v, %v", vecs, err)
	}
}
