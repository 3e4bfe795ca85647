// Package config loads runtime settings from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/scribe"
	"github.com/bosley/noties/server"
	"github.com/bosley/noties/summary"
)

const (
	TranscriberWhisper = "whisper"
	TranscriberRemote  = "remote"
)

type Config struct {
	ChunkDuration   time.Duration
	FramesPerBuffer int
	StallTimeout    time.Duration

	Transcriber       string
	WhisperPath       string
	WhisperModel      string
	STTURL            string
	HFToken           string
	TranscribeTimeout time.Duration

	APIKey           string
	LLMBase          string
	Model            string
	SummarizeTimeout time.Duration

	HTTPAddr string
	CertFile string
	KeyFile  string
	Inbox    string

	LogLevel string
}

// Load reads .env from the working directory when present, then the
// environment. Unparseable numbers and durations are errors rather than
// silently defaulted.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	chunkSeconds := getEnvInt("NOTIES_CHUNK_SECONDS", 30, &errs)

	cfg := Config{
		ChunkDuration:   time.Duration(chunkSeconds) * time.Second,
		FramesPerBuffer: getEnvInt("NOTIES_FRAMES_PER_BUFFER", 1024, &errs),
		StallTimeout:    getEnvDuration("NOTIES_STALL_TIMEOUT", 3*time.Second, &errs),

		Transcriber:       strings.ToLower(getEnv("NOTIES_TRANSCRIBER", TranscriberWhisper)),
		WhisperPath:       os.Getenv("WHISPER_PATH"),
		WhisperModel:      os.Getenv("WHISPER_MODEL"),
		STTURL:            getEnv("NOTIES_STT_URL", scribe.DefaultRemoteURL),
		HFToken:           os.Getenv("HF_TOKEN"),
		TranscribeTimeout: getEnvDuration("NOTIES_TRANSCRIBE_TIMEOUT", scribe.DefaultTimeout, &errs),

		APIKey:           os.Getenv("OPENAI_API_KEY"),
		LLMBase:          getEnv("NOTIES_LLM_BASE", summary.DefaultBaseURL),
		Model:            getEnv("NOTIES_MODEL", summary.DefaultModel),
		SummarizeTimeout: getEnvDuration("NOTIES_SUMMARIZE_TIMEOUT", summary.DefaultTimeout, &errs),

		HTTPAddr: getEnv("NOTIES_HTTP_ADDR", server.DefaultAddr),
		CertFile: os.Getenv("NOTIES_TLS_CERT"),
		KeyFile:  os.Getenv("NOTIES_TLS_KEY"),
		Inbox:    os.Getenv("NOTIES_INBOX"),

		LogLevel: strings.ToLower(getEnv("NOTIES_LOG_LEVEL", "info")),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that are missing or out of range for the
// selected backends.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkDuration <= 0 {
		errs = append(errs, errors.New("NOTIES_CHUNK_SECONDS must be positive"))
	}
	if c.FramesPerBuffer <= 0 {
		errs = append(errs, errors.New("NOTIES_FRAMES_PER_BUFFER must be positive"))
	}
	switch c.Transcriber {
	case TranscriberWhisper:
		if c.WhisperPath == "" {
			errs = append(errs, errors.New("WHISPER_PATH is required for the whisper transcriber"))
		}
		if c.WhisperModel == "" {
			errs = append(errs, errors.New("WHISPER_MODEL is required for the whisper transcriber"))
		}
	case TranscriberRemote:
		if c.STTURL == "" {
			errs = append(errs, errors.New("NOTIES_STT_URL is required for the remote transcriber"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transcriber %q", c.Transcriber))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required for summarization"))
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("NOTIES_TLS_CERT and NOTIES_TLS_KEY must be set together"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StreamOptions maps the capture settings onto the audio stream.
func (c Config) StreamOptions() audio.StreamOptions {
	opts := audio.DefaultStreamOptions()
	opts.ChunkDuration = c.ChunkDuration
	opts.FramesPerBuffer = c.FramesPerBuffer
	opts.StallTimeout = c.StallTimeout
	return opts
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
