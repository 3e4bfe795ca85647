package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bosley/noties/resilience"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultTemperature = 0.3
	appReferer         = "https://github.com/bosley/noties"
	appTitle           = "Noties - AI Meeting Assistant"
	maxErrorBody       = 4 << 10
)

// OpenRouter is a chat completions client for OpenAI-compatible endpoints.
type OpenRouter struct {
	HTTPClient  *http.Client
	BaseURL     string
	APIKey      string
	Temperature float64
	Retry       resilience.RetryConfig
}

func NewOpenRouter(baseURL, apiKey string) *OpenRouter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenRouter{
		HTTPClient:  &http.Client{Timeout: 90 * time.Second},
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		APIKey:      apiKey,
		Temperature: defaultTemperature,
		Retry:       resilience.DefaultRetryConfig(),
	}
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

var errMissingKey = errors.New("chat api key missing")

func (c *OpenRouter) Complete(ctx context.Context, model string, history []Message) (string, error) {
	if c.APIKey == "" {
		return "", errMissingKey
	}
	reqBody, err := json.Marshal(chatCompletionsRequest{
		Model:          model,
		Messages:       history,
		Temperature:    c.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	var answer string
	err = resilience.Retry(ctx, c.Retry, func() error {
		var err error
		answer, err = c.post(ctx, reqBody)
		return err
	})
	return answer, err
}

func (c *OpenRouter) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", appReferer)
	req.Header.Set("X-Title", appTitle)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &resilience.StatusError{Service: "chat completions", Code: resp.StatusCode, Body: string(b)}
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("chat completions: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
