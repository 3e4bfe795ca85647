package scribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/resilience"
)

const (
	DefaultRemoteURL = "https://api-inference.huggingface.co/models/openai/whisper-large-v3"
	maxErrorBody     = 4 << 10
)

// Remote posts WAV audio to an HTTP inference endpoint that answers with
// {"text": "..."}.
type Remote struct {
	HTTPClient *http.Client
	URL        string
	Token      string
	Retry      resilience.RetryConfig
}

func NewRemote(url, token string) *Remote {
	if url == "" {
		url = DefaultRemoteURL
	}
	return &Remote{
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
		URL:        url,
		Token:      token,
		Retry:      resilience.DefaultRetryConfig(),
	}
}

type remoteResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (r *Remote) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	var body bytes.Buffer
	if err := audio.EncodeWAV(&body, samples, sampleRate, 1); err != nil {
		return "", err
	}
	payload := body.Bytes()

	var text string
	err := resilience.Retry(ctx, r.Retry, func() error {
		var err error
		text, err = r.post(ctx, payload)
		return err
	})
	return text, err
}

func (r *Remote) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &resilience.StatusError{Service: "speech endpoint", Code: resp.StatusCode, Body: string(b)}
	}

	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	if rr.Error != "" {
		return "", fmt.Errorf("speech endpoint: %s", rr.Error)
	}
	return rr.Text, nil
}
