package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tick-relay/api/internal/util"
	"tick-relay/api/internal/vision"
)

const APIVersion = "2024-08-01-preview"

type Engine struct {
	Endpoint     string
	Deployment   string
	APIKey       string
	APIKeyHeader string
	httpc        *http.Client
}

// New builds an engine for one Azure OpenAI deployment. A zero timeout leaves
// the call bounded only by the caller's context.
func New(endpoint, deployment, apiKey, apiKeyHeader string, timeout time.Duration) *Engine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	if strings.TrimSpace(apiKeyHeader) == "" {
		apiKeyHeader = "api-key"
	}

	return &Engine{
		Endpoint:     strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		Deployment:   strings.TrimSpace(deployment),
		APIKey:       apiKey,
		APIKeyHeader: apiKeyHeader,
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g., for custom timeouts or tracing).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

func (e *Engine) Name() string     { return "azure" }
func (e *Engine) GetModel() string { return e.Deployment }

// URL is the chat-completions endpoint of the configured deployment.
func (e *Engine) URL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		e.Endpoint, url.PathEscape(e.Deployment), APIVersion)
}

func (e *Engine) Classify(ctx context.Context, img vision.UploadedImage) (string, error) {
	if e.APIKey == "" {
		return "", fmt.Errorf("AZURE_API_KEY not set")
	}

	dataURL := util.MakeDataURL(util.ImageLabel(img.MediaType), base64.StdEncoding.EncodeToString(img.Data))

	body := map[string]any{
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": vision.Prompt},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("azure: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("azure: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(e.APIKeyHeader, e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("azure: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &vision.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return extractContent(raw)
}

// extractContent reads choices[0].message.content; every other choice is ignored.
func extractContent(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("azure: malformed response: %s", truncateBytes(raw, 512))
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("azure: response has no choices[0].message.content")
	}
	if content.Type != gjson.String {
		return "", fmt.Errorf("azure: choices[0].message.content is %s, not a string", content.Type)
	}
	return content.String(), nil
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
