package worker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cnyy99/giggle/internal/config"
	"github.com/cnyy99/giggle/internal/observe"
	"github.com/cnyy99/giggle/internal/packfmt"
	"github.com/cnyy99/giggle/internal/registry"
	"github.com/cnyy99/giggle/internal/store"
	"github.com/cnyy99/giggle/internal/task"
	"github.com/cnyy99/giggle/internal/translate"
)

// --- fakes ---

type fakeRegistry struct {
	mu           sync.Mutex
	queue        []*task.Task
	finished     []string
	cancelled    map[string]bool
	statuses     []registry.NodeStatus
	unregistered bool
	drained      chan struct{}
}

func newFakeRegistry(tasks ...*task.Task) *fakeRegistry {
	return &fakeRegistry{
		queue:     tasks,
		cancelled: make(map[string]bool),
		drained:   make(chan struct{}),
	}
}

func (f *fakeRegistry) GetTask(context.Context) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	t := f.queue[0]
	f.queue = f.queue[1:]
	return t, nil
}

func (f *fakeRegistry) TaskFinished(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, taskID)
}

func (f *fakeRegistry) IsCancelled(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[taskID]
}

func (f *fakeRegistry) UpdateNodeStatus(_ context.Context, s registry.NodeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeRegistry) Unregister(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = true
	return nil
}

func (f *fakeRegistry) ActiveTaskCount() int { return 0 }

func (f *fakeRegistry) Drained() <-chan struct{} { return f.drained }

func (f *fakeRegistry) finishedTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finished...)
}

type statusWrite struct {
	taskID   string
	status   task.Status
	optCount int
}

type fakeStore struct {
	mu     sync.Mutex
	writes []statusWrite
	err    error
}

func (f *fakeStore) UpdateStatus(_ context.Context, taskID string, status task.Status, opts ...store.StatusOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, statusWrite{taskID: taskID, status: status, optCount: len(opts)})
	return f.err
}

func (f *fakeStore) statusWrites() []statusWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusWrite(nil), f.writes...)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string) (string, error) {
	return f.text, f.err
}

type fakeTranslator struct {
	mu     sync.Mutex
	texts  []string
	result map[string]string
	err    error
}

func (f *fakeTranslator) Translate(_ context.Context, text, sourceLang string, targets []string, _ string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	out := map[string]string{sourceLang: text}
	for _, tgt := range targets {
		out[tgt] = "translated:" + tgt
	}
	return out, nil
}

func (f *fakeTranslator) translatedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestEngine(t *testing.T, reg *fakeRegistry, st *fakeStore, stt Transcriber, tr Translator) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.ResultDir = t.TempDir()
	cfg.Worker.TaskTimeout = 1
	return New(reg, st, stt, tr, newTestMetrics(t), cfg, slog.New(slog.DiscardHandler))
}

func textTask(id string) *task.Task {
	return &task.Task{
		ID:              id,
		SourceLanguage:  "en",
		TargetLanguages: []string{"fr", "de"},
		TextContent:     "hello world",
	}
}

// --- handler ---

func TestHandleTaskTextHappyPath(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{}
	tr := &fakeTranslator{}
	e := newTestEngine(t, reg, st, nil, tr)

	e.handleTask(context.Background(), textTask("t-1"))

	writes := st.statusWrites()
	if len(writes) != 2 {
		t.Fatalf("status writes: want 2, got %d (%v)", len(writes), writes)
	}
	if writes[0].status != task.StatusProcessing {
		t.Errorf("first write: want PROCESSING, got %s", writes[0].status)
	}
	if writes[1].status != task.StatusCompleted {
		t.Errorf("second write: want COMPLETED, got %s", writes[1].status)
	}
	if writes[1].optCount == 0 {
		t.Error("terminal write carried no result path")
	}

	blob, err := os.ReadFile(filepath.Join(e.resultDir, "t-1.bin"))
	if err != nil {
		t.Fatalf("result blob: %v", err)
	}
	if len(blob) == 0 {
		t.Error("result blob is empty")
	}

	if got := tr.translatedTexts(); len(got) != 1 || got[0] != "hello world" {
		t.Errorf("translated texts: %v", got)
	}
	if got := reg.finishedTasks(); len(got) != 1 || got[0] != "t-1" {
		t.Errorf("finished tasks: %v", got)
	}
}

func TestHandleTaskAudioWithAccuracy(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{}
	tr := &fakeTranslator{}
	stt := &fakeTranscriber{text: "hello world"}
	e := newTestEngine(t, reg, st, stt, tr)

	e.handleTask(context.Background(), &task.Task{
		ID:              "a-1",
		SourceLanguage:  "en",
		TargetLanguages: []string{"fr"},
		AudioFilePath:   "/audio/a-1.wav",
		OriginalText:    "hello, world!",
	})

	writes := st.statusWrites()
	if len(writes) != 2 || writes[1].status != task.StatusCompleted {
		t.Fatalf("status writes: %v", writes)
	}
	// result path + transcript + accuracy
	if writes[1].optCount != 3 {
		t.Errorf("terminal write options: want 3, got %d", writes[1].optCount)
	}
	// On audio tasks originalText is a scoring reference only; just the
	// transcript gets translated.
	if got := tr.translatedTexts(); len(got) != 1 || got[0] != "hello world" {
		t.Errorf("translator saw: %v", got)
	}
	blob, err := os.ReadFile(filepath.Join(e.resultDir, "a-1.bin"))
	if err != nil {
		t.Fatalf("result blob: %v", err)
	}
	if _, err := packfmt.Query(blob, "fr", "a-1", packfmt.SourceText); !errors.Is(err, packfmt.ErrNotFound) {
		t.Errorf("TEXT entry on an audio-only task: want ErrNotFound, got %v", err)
	}
}

func TestHandleTaskOriginalTextOnly(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{}
	tr := &fakeTranslator{}
	e := newTestEngine(t, reg, st, nil, tr)

	e.handleTask(context.Background(), &task.Task{
		ID:              "o-1",
		SourceLanguage:  "en",
		TargetLanguages: []string{"fr"},
		OriginalText:    "good morning",
	})

	writes := st.statusWrites()
	if len(writes) != 2 || writes[1].status != task.StatusCompleted {
		t.Fatalf("status writes: %v", writes)
	}
	if got := tr.translatedTexts(); len(got) != 1 || got[0] != "good morning" {
		t.Fatalf("translator saw: %v", got)
	}

	blob, err := os.ReadFile(filepath.Join(e.resultDir, "o-1.bin"))
	if err != nil {
		t.Fatalf("result blob: %v", err)
	}
	got, err := packfmt.Query(blob, "fr", "o-1", packfmt.SourceText)
	if err != nil {
		t.Fatalf("query packed result: %v", err)
	}
	if got != "translated:fr" {
		t.Errorf("packed translation: want %q, got %q", "translated:fr", got)
	}
}

func TestHandleTaskTranscriptionFailure(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{}
	stt := &fakeTranscriber{err: errors.New("model exploded")}
	e := newTestEngine(t, reg, st, stt, &fakeTranslator{})

	e.handleTask(context.Background(), &task.Task{
		ID:              "a-2",
		SourceLanguage:  "en",
		TargetLanguages: []string{"fr"},
		AudioFilePath:   "/audio/a-2.wav",
	})

	writes := st.statusWrites()
	if len(writes) != 2 || writes[1].status != task.StatusFailed {
		t.Fatalf("status writes: %v", writes)
	}
	if got := reg.finishedTasks(); len(got) != 1 {
		t.Errorf("finished tasks: %v", got)
	}
}

func TestHandleTaskNoSpeechModel(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{}
	e := newTestEngine(t, reg, st, nil, &fakeTranslator{})

	e.handleTask(context.Background(), &task.Task{
		ID:              "a-3",
		SourceLanguage:  "en",
		TargetLanguages: []string{"fr"},
		AudioFilePath:   "/audio/a-3.wav",
	})

	writes := st.statusWrites()
	if len(writes) != 2 || writes[1].status != task.StatusFailed {
		t.Fatalf("status writes: %v", writes)
	}
}

func TestHandleTaskCancelledWritesNoTerminalState(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.cancelled["c-1"] = true
	st := &fakeStore{}
	e := newTestEngine(t, reg, st, nil, &fakeTranslator{})

	e.handleTask(context.Background(), textTask("c-1"))

	if writes := st.statusWrites(); len(writes) != 0 {
		t.Fatalf("cancelled task wrote to the store: %v", writes)
	}
	if got := reg.finishedTasks(); len(got) != 1 || got[0] != "c-1" {
		t.Errorf("finished tasks: %v", got)
	}
}

func TestHandleTaskCancelledMidTranslation(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{}
	tr := &fakeTranslator{err: translate.ErrCancelled}
	e := newTestEngine(t, reg, st, nil, tr)

	e.handleTask(context.Background(), textTask("c-2"))

	writes := st.statusWrites()
	if len(writes) != 1 || writes[0].status != task.StatusProcessing {
		t.Fatalf("status writes: %v", writes)
	}
	if _, err := os.Stat(filepath.Join(e.resultDir, "c-2.bin")); !os.IsNotExist(err) {
		t.Error("cancelled task wrote a result blob")
	}
}

func TestHandleTaskStoreTroubleIsNotFatal(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	st := &fakeStore{err: errors.New("connection refused")}
	e := newTestEngine(t, reg, st, nil, &fakeTranslator{})

	e.handleTask(context.Background(), textTask("t-2"))

	// The task completes locally even when the store is unreachable.
	if _, err := os.Stat(filepath.Join(e.resultDir, "t-2.bin")); err != nil {
		t.Errorf("result blob missing: %v", err)
	}
}

// --- run loop ---

func TestRunProcessesQueuedTask(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(textTask("r-1"))
	st := &fakeStore{}
	e := newTestEngine(t, reg, st, nil, &fakeTranslator{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for len(reg.finishedTasks()) == 0 {
		select {
		case <-deadline:
			t.Fatal("task never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	writes := st.statusWrites()
	if len(writes) != 2 || writes[1].status != task.StatusCompleted {
		t.Fatalf("status writes: %v", writes)
	}
}

// --- shutdown ---

func TestShutdownDrained(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	close(reg.drained)
	e := newTestEngine(t, reg, &fakeStore{}, nil, &fakeTranslator{})

	e.Shutdown(context.Background())

	want := []registry.NodeStatus{registry.StatusShuttingDown, registry.StatusOffline}
	if len(reg.statuses) != 2 || reg.statuses[0] != want[0] || reg.statuses[1] != want[1] {
		t.Errorf("status transitions: %v", reg.statuses)
	}
	if !reg.unregistered {
		t.Error("node was not unregistered")
	}
	if e.taskCtx.Err() != nil {
		t.Error("drained shutdown cancelled the task context")
	}
}

func TestShutdownGraceExpired(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry() // drained never closes
	e := newTestEngine(t, reg, &fakeStore{}, nil, &fakeTranslator{})
	e.taskTimeout = 10 * time.Millisecond

	e.Shutdown(context.Background())

	if e.taskCtx.Err() == nil {
		t.Error("expired grace period did not cancel the task context")
	}
	if !reg.unregistered {
		t.Error("node was not unregistered")
	}
}

// --- accuracy ---

func TestAccuracyScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
		actual   string
		want     float64
	}{
		{"identical", "hello world", "hello world", 1},
		{"case insensitive", "Hello World", "hello world", 1},
		{"both empty", "", "", 1},
		{"one empty", "hello", "", 0},
		{"partial", "hello world", "hello", 2.0 * 5 / 16},
		{"disjoint", "abc", "xyz", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := accuracyScore(tt.expected, tt.actual)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("accuracyScore(%q, %q) = %v, want %v", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}
