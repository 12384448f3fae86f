package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

const (
	anthropicVersion = "2023-06-01"
	temperature      = 0.5
)

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	cfg  config.LLMConfig
	http *http.Client
}

func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &AnthropicClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}

	content := []map[string]any{}
	if len(req.Image) > 0 {
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaType,
				"data":       base64.StdEncoding.EncodeToString(req.Image),
			},
		})
	}
	content = append(content, map[string]any{
		"type": "text",
		"text": req.Prompt,
	})

	body := map[string]any{
		"model":       c.cfg.Model,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": temperature,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}

	bs, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	logger.Log.Info().
		Str("req_id", rid).
		Str("model", c.cfg.Model).
		Int("image_bytes", len(req.Image)).
		Int("prompt_len", len(req.Prompt)).
		Msg("llm request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm http error: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	logger.Log.Info().
		Str("req_id", rid).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("llm response")

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("no text block in llm response")
}

// truncate cuts at a rune boundary so clipped log output stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

var _ Client = (*AnthropicClient)(nil)
