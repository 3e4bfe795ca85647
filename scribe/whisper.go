package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/bosley/noties/audio"
)

// Whisper runs a local whisper executable against a temporary WAV file.
type Whisper struct {
	Path    string
	Model   string
	TempDir string
}

func (w *Whisper) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	path, err := audio.WriteTempWAV(w.TempDir, samples, sampleRate, 1)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, w.Path,
		"--model", w.Model,
		"--no-timestamps",
		path)

	slog.Debug("Executing whisper command",
		"command", cmd.String(),
		"args", cmd.Args)

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("Whisper command failed",
				"stderr", string(exitErr.Stderr),
				"exitCode", exitErr.ExitCode())
		}
		return "", fmt.Errorf("whisper execution failed: %w", err)
	}

	slog.Debug("Whisper command output received", "outputLength", len(output))
	return extractText(string(output)), nil
}

var timestampPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}[.,]\d{3} --> \d{2}:\d{2}:\d{2}[.,]\d{3}\]`)

// extractText joins whisper's subtitle-style lines, dropping timestamps
// and blank-audio markers.
func extractText(output string) string {
	var builder strings.Builder
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(timestampPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" || strings.Contains(line, "[BLANK_AUDIO]") {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(line)
	}
	return builder.String()
}
