package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tick-relay/api/internal/util"
	"tick-relay/api/internal/vision"
)

type Engine struct {
	APIKey string
	Model  string
	opts   []option.ClientOption
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

// WithClientOptions appends options to every client the engine creates
// (custom endpoint, HTTP client).
func (e *Engine) WithClientOptions(opts ...option.ClientOption) *Engine {
	e.opts = append(e.opts, opts...)
	return e
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Classify(ctx context.Context, img vision.UploadedImage) (string, error) {
	if e.APIKey == "" {
		return "", errors.New("GEMINI_API_KEY is empty")
	}
	opts := append([]option.ClientOption{option.WithAPIKey(e.APIKey)}, e.opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("gemini: new client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.SetTemperature(0)

	resp, err := m.GenerateContent(ctx,
		genai.Text(vision.Prompt),
		genai.Blob{MIMEType: util.ImageLabel(img.MediaType), Data: img.Data},
	)
	if err != nil {
		return "", mapError(err)
	}
	return textOf(resp)
}

// mapError turns provider HTTP errors into upstream errors; everything else
// is returned unchanged.
func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if strings.TrimSpace(body) == "" {
			body = gerr.Message
		}
		return &vision.UpstreamError{StatusCode: gerr.Code, Body: body}
	}
	return fmt.Errorf("gemini: %w", err)
}

// textOf joins the text parts of the first candidate.
func textOf(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: empty response")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return "", errors.New("gemini: first candidate has no content")
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini: first candidate has no text")
	}
	return b.String(), nil
}
