package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/archivemaps/georef-pipeline/internal/config"
)

func TestCompleteSendsMultimodalRequest(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("api key header missing")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("version header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": [{"type": "text", "text": "  {\"ok\": true}  "}]}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(config.LLMConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "claude-test",
	})

	out, err := client.Complete(context.Background(), Request{
		Prompt:    "describe the map",
		Image:     []byte("png-bytes"),
		MediaType: "image/png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok": true}` {
		t.Errorf("response = %q, want trimmed text block", out)
	}

	if got.Model != "claude-test" || got.Temperature != 0.5 {
		t.Errorf("request model/temperature = %s/%v", got.Model, got.Temperature)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Content) != 2 {
		t.Fatalf("messages = %+v, want one user message with image + text blocks", got.Messages)
	}
	if got.Messages[0].Content[0].Type != "image" || got.Messages[0].Content[1].Text != "describe the map" {
		t.Errorf("content blocks = %+v", got.Messages[0].Content)
	}
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewAnthropicClient(config.LLMConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %v does not carry the status code", err)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("ü", 8)
	for n := 1; n < len(s); n++ {
		if got := truncate(s, n); !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q is not valid UTF-8", s, n, got)
		}
	}
}
