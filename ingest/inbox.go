// Package ingest watches a directory for finished WAV recordings and feeds
// them into a session's chunk queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/bosley/noties/audio"
)

// Sink accepts decoded audio for processing.
type Sink interface {
	Enqueue(chunk *audio.Chunk) error
}

// Inbox queues every WAV file created in its directory. Producers write to
// a .tmp name and rename on completion, so only whole files are seen.
type Inbox struct {
	dir     string
	sink    Sink
	watcher *fsnotify.Watcher
}

func New(dir string, sink Sink) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	return &Inbox{dir: dir, sink: sink, watcher: watcher}, nil
}

func (i *Inbox) Dir() string { return i.dir }

// Run handles file events until ctx is cancelled. The watcher is closed on
// return.
func (i *Inbox) Run(ctx context.Context) {
	defer i.watcher.Close()

	slog.Info("Started watching inbox", "path", i.dir)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if err := i.handleFSEvent(event); err != nil {
				slog.Error("Failed to ingest file",
					"error", err,
					"event", event)
			}

		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (i *Inbox) handleFSEvent(event fsnotify.Event) error {
	// A rename onto the inbox arrives as a Create for the new name.
	if !event.Has(fsnotify.Create) {
		return nil
	}
	if !accepts(event.Name) {
		return nil
	}
	if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
		return nil
	}
	return i.Ingest(event.Name)
}

func accepts(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".tmp") || strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".wav")
}

// Ingest decodes one WAV file and hands it to the sink.
func (i *Inbox) Ingest(path string) error {
	chunk, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}
	if chunk.Frames() == 0 {
		slog.Warn("Skipping empty recording", "file", filepath.Base(path))
		return nil
	}
	if err := i.sink.Enqueue(chunk); err != nil {
		return fmt.Errorf("failed to queue %s: %w", filepath.Base(path), err)
	}
	slog.Info("Queued recording",
		"file", filepath.Base(path),
		"id", chunk.ID,
		"duration", chunk.Duration())
	return nil
}
