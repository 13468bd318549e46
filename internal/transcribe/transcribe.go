// Package transcribe adapts the whisper.cpp Go bindings to the task engine's
// batch contract: one audio file in, one transcript out. The ggml model is
// loaded once at process start and bound to the accelerator when the
// bindings were built with GPU support.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/cnyy99/giggle/internal/config"
)

// Transcriber runs whisper.cpp inference over audio files. Calls are
// serialized with a mutex: whisper contexts are not thread-safe and the
// model competes for a single accelerator.
type Transcriber struct {
	mu    sync.Mutex
	model whisperlib.Model
	log   *slog.Logger
}

// New loads the ggml model selected by cfg: an explicit ModelPath wins,
// otherwise "ggml-{ModelSize}.bin" is resolved under ModelDir. The caller
// must Close the transcriber to release the model.
func New(cfg config.WhisperConfig, log *slog.Logger) (*Transcriber, error) {
	path := cfg.ModelPath
	if path == "" {
		path = filepath.Join(cfg.ModelDir, fmt.Sprintf("ggml-%s.bin", cfg.ModelSize))
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load model %q: %w", path, err)
	}
	log.Info("whisper model loaded", "path", path)
	return &Transcriber{model: model, log: log}, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs inference over the WAV file at audioPath and returns the
// concatenated transcript. The file must contain 16-bit PCM at the whisper
// sample rate; multi-channel audio is down-mixed to mono. The call does not
// observe cancellation mid-inference; callers check for cancellation before
// invoking it and discard the result after.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: read %s: %w", audioPath, err)
	}
	wav, err := decodeWAV(data)
	if err != nil {
		return "", fmt.Errorf("transcribe: decode %s: %w", audioPath, err)
	}
	if wav.sampleRate != whisperlib.SampleRate {
		return "", fmt.Errorf("transcribe: %s has sample rate %d Hz, want %d Hz",
			audioPath, wav.sampleRate, whisperlib.SampleRate)
	}
	samples := wav.monoSamples()

	t.mu.Lock()
	defer t.mu.Unlock()

	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcribe: create context: %w", err)
	}
	if lang := whisperLanguage(language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			t.log.Warn("failed to set whisper language, autodetecting",
				"language", lang, "error", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcribe: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcribe: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// whisperLanguage maps a task language tag to the two-letter code whisper
// expects: region subtags are dropped, "auto" and empty mean autodetect.
func whisperLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || tag == "auto" {
		return ""
	}
	if base, _, found := strings.Cut(tag, "-"); found {
		return base
	}
	return tag
}
