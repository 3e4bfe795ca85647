// Package summary keeps a running meeting summary in a model conversation.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultModel   = "arcee-ai/trinity-mini:free"
	DefaultTimeout = 2 * time.Minute

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrEmptyTranscript = errors.New("empty transcript")
	ErrChat            = errors.New("chat completion failed")
)

const systemPrompt = `You are a real-time meeting assistant.
I will send you transcribed text chunks from a meeting in progress.
For each chunk, you must:
1. Note the new content from this chunk.
2. Update a running summary of the ENTIRE meeting so far.

Output your response in this JSON format ONLY:
{
    "new_transcript": "The text from THIS chunk (repeat it).",
    "updated_summary": "The consolidated summary of the ENTIRE meeting so far."
}`

const readyAck = "Understood. I am ready to process the transcripts."

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the structured answer for one transcript fragment.
type Reply struct {
	NewTranscript  string `json:"new_transcript"`
	UpdatedSummary string `json:"updated_summary"`
}

// ChatCompleter is a conversational model asked for a JSON object reply.
// It returns the raw reply content.
type ChatCompleter interface {
	Complete(ctx context.Context, model string, history []Message) (string, error)
}

// Summarizer folds transcript fragments into one cumulative summary. The
// conversation only grows within a session.
type Summarizer struct {
	chat    ChatCompleter
	timeout time.Duration

	mu      sync.Mutex
	model   string
	history []Message
	summary string
}

func New(chat ChatCompleter, model string, timeout time.Duration) *Summarizer {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Summarizer{chat: chat, model: model, timeout: timeout}
	s.Reset()
	return s
}

// Reset starts a new session: the conversation is seeded again and the
// summary cleared. The model is kept.
func (s *Summarizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleAssistant, Content: readyAck},
	}
	s.summary = ""
}

// ProcessTranscript sends one fragment and returns the echoed fragment and
// the updated summary. Unparseable replies are used as the summary as-is.
func (s *Summarizer) ProcessTranscript(ctx context.Context, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyTranscript
	}

	s.mu.Lock()
	s.history = append(s.history, Message{
		Role:    RoleUser,
		Content: "Here is the next transcript chunk:\n\n" + text,
	})
	history := make([]Message, len(s.history))
	copy(history, s.history)
	model := s.model
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.chat.Complete(ctx, model, history)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrChat, err)
	}

	reply, ok := parseReply(raw)
	if !ok {
		slog.Warn("Model reply is not valid JSON, using it as the summary", "model", model)
		reply = Reply{NewTranscript: text, UpdatedSummary: raw}
	}

	s.mu.Lock()
	s.history = append(s.history, Message{Role: RoleAssistant, Content: raw})
	if reply.UpdatedSummary != "" {
		s.summary = reply.UpdatedSummary
	}
	s.mu.Unlock()

	return reply, nil
}

func parseReply(raw string) (Reply, bool) {
	body := strings.TrimSpace(raw)
	// Some models fence JSON even when asked for a bare object.
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	var r Reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Reply{}, false
	}
	return r, true
}

// SwitchModel changes the model for subsequent calls, keeping the
// conversation.
func (s *Summarizer) SwitchModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Info("Switched summarization model", "from", s.model, "to", name)
	s.model = name
}

func (s *Summarizer) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Summary is the latest cumulative summary.
func (s *Summarizer) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// History returns a copy of the conversation.
func (s *Summarizer) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}
