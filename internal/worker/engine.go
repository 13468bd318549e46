// Package worker contains the task engine: the loop that dequeues tasks from
// the registry, drives each one through transcription, translation, and
// packing, and writes exactly one terminal state per task — or none at all
// when the task was cancelled, because the control loop already wrote
// CANCELLED.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cnyy99/giggle/internal/config"
	"github.com/cnyy99/giggle/internal/observe"
	"github.com/cnyy99/giggle/internal/packfmt"
	"github.com/cnyy99/giggle/internal/registry"
	"github.com/cnyy99/giggle/internal/store"
	"github.com/cnyy99/giggle/internal/task"
	"github.com/cnyy99/giggle/internal/translate"
)

const (
	// pollInterval is the idle sleep between dequeue attempts. The dequeue
	// itself blocks for up to a second, so the loop is not hot.
	pollInterval = 100 * time.Millisecond

	// translationTimeout bounds the combined translation fan-out of one
	// task. On expiry the task continues with empty translation maps.
	translationTimeout = 300 * time.Second
)

// Registry is the engine's view of the node registry client.
type Registry interface {
	GetTask(ctx context.Context) (*task.Task, error)
	TaskFinished(taskID string)
	IsCancelled(taskID string) bool
	UpdateNodeStatus(ctx context.Context, s registry.NodeStatus)
	Unregister(ctx context.Context) error
	ActiveTaskCount() int
	Drained() <-chan struct{}
}

// Store is the slice of the persistent store the engine writes to.
type Store interface {
	UpdateStatus(ctx context.Context, taskID string, status task.Status, opts ...store.StatusOption) error
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
}

// Translator fans one string out to every target language.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string, targets []string, taskID string) (map[string]string, error)
}

// handle tracks one in-flight task goroutine.
type handle struct {
	taskID string
	done   chan struct{}
}

// Engine owns the dequeue loop and the in-flight handler set.
type Engine struct {
	reg        Registry
	store      Store
	stt        Transcriber
	translator Translator
	metrics    *observe.Metrics
	log        *slog.Logger

	resultDir   string
	taskTimeout time.Duration

	// taskCtx outlives the run loop's context so in-flight handlers can
	// drain during graceful shutdown. It is cancelled only when the grace
	// period expires.
	taskCtx     context.Context
	cancelTasks context.CancelFunc

	mu      sync.Mutex
	handles map[string]*handle
}

// New assembles an engine. The transcriber may be nil when no speech model
// is loaded; audio tasks then fail with an explicit error.
func New(reg Registry, st Store, stt Transcriber, tr Translator, m *observe.Metrics, cfg *config.Config, log *slog.Logger) *Engine {
	taskCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reg:         reg,
		store:       st,
		stt:         stt,
		translator:  tr,
		metrics:     m,
		log:         log,
		resultDir:   cfg.Worker.ResultDir,
		taskTimeout: time.Duration(cfg.Worker.TaskTimeout) * time.Second,
		taskCtx:     taskCtx,
		cancelTasks: cancel,
		handles:     make(map[string]*handle),
	}
}

// Run is the engine main loop: prune finished handles, dequeue when below
// the concurrency bound, spawn a handler per task. Returns when ctx is
// cancelled; in-flight handlers keep running until [Engine.Shutdown].
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("task engine started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
		e.prune()

		t, err := e.reg.GetTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn("failed to poll task queue", "error", err)
			continue
		}
		if t == nil {
			continue
		}
		e.spawn(t)
	}
}

// spawn registers a handle and starts the handler goroutine.
func (e *Engine) spawn(t *task.Task) {
	h := &handle{taskID: t.ID, done: make(chan struct{})}
	e.mu.Lock()
	e.handles[t.ID] = h
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		e.handleTask(e.taskCtx, t)
	}()
}

// prune drops handles whose goroutine has finished.
func (e *Engine) prune() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, h := range e.handles {
		select {
		case <-h.done:
			delete(e.handles, id)
		default:
		}
	}
}

// handleTask drives one task through its stages. Exactly one terminal state
// is written per task, or zero when the task was cancelled.
func (e *Engine) handleTask(ctx context.Context, t *task.Task) {
	start := time.Now()
	log := e.log.With("task_id", t.ID)
	outcome := "completed"

	e.metrics.TasksStarted.Add(ctx, 1)
	e.metrics.ActiveTasks.Add(ctx, 1)
	defer func() {
		e.metrics.ActiveTasks.Add(ctx, -1)
		observe.RecordStage(ctx, e.metrics.TaskDuration, start, outcome)
		e.reg.TaskFinished(t.ID)
	}()

	// cancelled is consulted before every stage; a pending cancellation
	// makes the handler exit without a terminal write of its own.
	cancelled := func(stage string) bool {
		if !e.reg.IsCancelled(t.ID) {
			return false
		}
		log.Info("task cancelled, abandoning", "stage", stage)
		e.metrics.TasksCancelled.Add(ctx, 1)
		outcome = "cancelled"
		return true
	}

	if cancelled("dequeue") {
		return
	}
	log.Info("task started",
		"source_language", t.SourceLanguage,
		"target_languages", t.TargetLanguages,
		"has_audio", t.AudioFilePath != "")

	if err := e.store.UpdateStatus(ctx, t.ID, task.StatusProcessing); err != nil {
		// Transient store trouble does not kill the task.
		log.Warn("failed to mark task processing", "error", err)
	}

	// ---- transcription ----
	var sttText string
	accuracy := math.NaN()
	if t.AudioFilePath != "" {
		if cancelled("transcription") {
			return
		}
		if e.stt == nil {
			outcome = "failed"
			e.fail(ctx, log, t.ID, errors.New("no speech model loaded"))
			return
		}
		sttStart := time.Now()
		text, err := e.stt.Transcribe(ctx, t.AudioFilePath, t.SourceLanguage)
		if err != nil {
			observe.RecordStage(ctx, e.metrics.TranscriptionDuration, sttStart, "error")
			if cancelled("transcription") {
				return
			}
			outcome = "failed"
			e.fail(ctx, log, t.ID, fmt.Errorf("transcription: %w", err))
			return
		}
		observe.RecordStage(ctx, e.metrics.TranscriptionDuration, sttStart, "ok")
		sttText = text
		if t.OriginalText != "" {
			accuracy = accuracyScore(t.OriginalText, sttText)
			log.Info("transcription scored", "accuracy", accuracy)
		}
	}

	// ---- translation ----
	if cancelled("translation") {
		return
	}
	// A text-only task may carry its text in originalText instead of
	// textContent. On audio tasks originalText is a reference transcript for
	// the accuracy score, not a translation input.
	originalText := t.TextContent
	if originalText == "" && t.AudioFilePath == "" {
		originalText = t.OriginalText
	}
	trStart := time.Now()
	textTr, sttTr, err := e.translateAll(ctx, t, originalText, sttText)
	if err != nil {
		observe.RecordStage(ctx, e.metrics.TranslationDuration, trStart, "error")
		if errors.Is(err, translate.ErrCancelled) {
			cancelled("translation")
			return
		}
		// The task context was cancelled under forced shutdown; the row is
		// left in PROCESSING for the gateway janitor.
		log.Warn("task abandoned mid-translation", "error", err)
		outcome = "abandoned"
		return
	}
	observe.RecordStage(ctx, e.metrics.TranslationDuration, trStart, "ok")

	// ---- pack and persist ----
	if cancelled("packing") {
		return
	}
	blob, err := packfmt.Pack([]packfmt.TaskPayload{{
		TaskID:               t.ID,
		OriginalText:         originalText,
		OriginalTranslations: textTr,
		STTText:              sttText,
		STTTranslations:      sttTr,
	}})
	if err != nil {
		outcome = "failed"
		e.fail(ctx, log, t.ID, fmt.Errorf("pack result: %w", err))
		return
	}
	if err := os.MkdirAll(e.resultDir, 0o755); err != nil {
		outcome = "failed"
		e.fail(ctx, log, t.ID, fmt.Errorf("create result dir: %w", err))
		return
	}
	resultPath := filepath.Join(e.resultDir, t.ID+".bin")
	if err := os.WriteFile(resultPath, blob, 0o644); err != nil {
		outcome = "failed"
		e.fail(ctx, log, t.ID, fmt.Errorf("write result: %w", err))
		return
	}

	if cancelled("finalize") {
		return
	}
	opts := []store.StatusOption{store.WithResultPath(resultPath)}
	if sttText != "" {
		opts = append(opts, store.WithTranscribedText(sttText))
	}
	if !math.IsNaN(accuracy) {
		opts = append(opts, store.WithAccuracy(accuracy))
	}
	if err := e.store.UpdateStatus(ctx, t.ID, task.StatusCompleted, opts...); err != nil {
		log.Error("failed to mark task completed", "error", err)
	}
	e.metrics.TasksCompleted.Add(ctx, 1)
	log.Info("task completed",
		"result_path", resultPath,
		"duration", time.Since(start))
}

// translateAll runs the text and transcript translations concurrently under
// one shared timeout. On timeout both maps come back nil and the task
// continues; cancellation propagates as [translate.ErrCancelled].
func (e *Engine) translateAll(ctx context.Context, t *task.Task, originalText, sttText string) (textTr, sttTr map[string]string, err error) {
	tctx, cancel := context.WithTimeout(ctx, translationTimeout)
	defer cancel()

	var g errgroup.Group
	if originalText != "" {
		g.Go(func() error {
			m, err := e.translator.Translate(tctx, originalText, t.SourceLanguage, t.TargetLanguages, t.ID)
			if err != nil {
				return err
			}
			textTr = m
			return nil
		})
	}
	if sttText != "" {
		g.Go(func() error {
			m, err := e.translator.Translate(tctx, sttText, t.SourceLanguage, t.TargetLanguages, t.ID)
			if err != nil {
				return err
			}
			sttTr = m
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, nil, err
		}
		return textTr, sttTr, nil
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		e.log.Warn("translation timed out, continuing with empty translations",
			"task_id", t.ID, "timeout", translationTimeout)
		return nil, nil, nil
	}
}

// fail writes the FAILED terminal state. Callers check for cancellation
// first so a cancelled task never gains a second terminal write.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, taskID string, cause error) {
	log.Error("task failed", "error", cause)
	e.metrics.TasksFailed.Add(ctx, 1)
	err := e.store.UpdateStatus(ctx, taskID, task.StatusFailed, store.WithErrorMessage(cause.Error()))
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		log.Error("failed to record task failure", "error", err)
	}
}

// Shutdown performs the graceful drain: stop competing for work, wait up to
// the task timeout for in-flight handlers, then go OFFLINE and unregister.
// Registry errors are logged, never fatal — shutdown always completes.
func (e *Engine) Shutdown(ctx context.Context) {
	e.log.Info("engine shutting down", "active_tasks", e.reg.ActiveTaskCount())
	e.reg.UpdateNodeStatus(ctx, registry.StatusShuttingDown)

	select {
	case <-e.reg.Drained():
		e.log.Info("all in-flight tasks drained")
	case <-time.After(e.taskTimeout):
		// Abandoned rows stay in PROCESSING; a gateway-side janitor reaps
		// them.
		e.log.Warn("grace period expired, abandoning in-flight tasks")
		e.cancelTasks()
	case <-ctx.Done():
		e.cancelTasks()
	}

	e.reg.UpdateNodeStatus(ctx, registry.StatusOffline)
	if err := e.reg.Unregister(ctx); err != nil {
		e.log.Warn("unregister failed", "error", err)
	}
	e.log.Info("engine shutdown complete")
}
