package packfmt_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/cnyy99/giggle/internal/packfmt"
)

// samplePayloads covers both source types, multiple tasks, and multi-byte
// scripts across several languages.
func samplePayloads() []packfmt.TaskPayload {
	return []packfmt.TaskPayload{
		{
			TaskID:       "task001",
			OriginalText: "Hello world",
			OriginalTranslations: map[string]string{
				"zh-cn": "你好世界",
				"ja":    "こんにちは世界",
				"fr":    "Bonjour le monde",
				"en":    "Hello world",
			},
			STTText: "Hello world audio",
			STTTranslations: map[string]string{
				"zh-cn": "你好世界音频",
				"ja":    "こんにちは世界オーディオ",
			},
		},
		{
			TaskID:       "task002",
			OriginalText: "Good morning",
			OriginalTranslations: map[string]string{
				"zh-cn": "早上好",
				"es":    "Buenos días",
			},
		},
	}
}

func TestPackQueryRoundTrip(t *testing.T) {
	t.Parallel()

	tasks := samplePayloads()
	blob, err := packfmt.Pack(tasks)
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}

	for _, task := range tasks {
		if task.OriginalText != "" {
			for lang, want := range task.OriginalTranslations {
				got, err := packfmt.Query(blob, lang, task.TaskID, packfmt.SourceText)
				if err != nil {
					t.Errorf("Query(%q, %q, TEXT): unexpected error: %v", lang, task.TaskID, err)
					continue
				}
				if got != want {
					t.Errorf("Query(%q, %q, TEXT): want %q, got %q", lang, task.TaskID, want, got)
				}
			}
		}
		if task.STTText != "" {
			for lang, want := range task.STTTranslations {
				got, err := packfmt.Query(blob, lang, task.TaskID, packfmt.SourceAudio)
				if err != nil {
					t.Errorf("Query(%q, %q, AUDIO): unexpected error: %v", lang, task.TaskID, err)
					continue
				}
				if got != want {
					t.Errorf("Query(%q, %q, AUDIO): want %q, got %q", lang, task.TaskID, want, got)
				}
			}
		}
	}
}

func TestQueryMisses(t *testing.T) {
	t.Parallel()

	blob, err := packfmt.Pack(samplePayloads())
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		lang   string
		taskID string
		source packfmt.SourceType
	}{
		{"unknown language", "ko", "task001", packfmt.SourceText},
		{"unknown task", "zh-cn", "task999", packfmt.SourceText},
		{"wrong source type", "es", "task002", packfmt.SourceAudio},
		{"stt-only language queried as text", "es", "task001", packfmt.SourceText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := packfmt.Query(blob, tt.lang, tt.taskID, tt.source)
			if !errors.Is(err, packfmt.ErrNotFound) {
				t.Errorf("Query: want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestQueryByNameBogusSourceType(t *testing.T) {
	t.Parallel()

	blob, err := packfmt.Pack(samplePayloads())
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}
	if _, err := packfmt.QueryByName(blob, "zh-cn", "task001", "BOGUS"); !errors.Is(err, packfmt.ErrNotFound) {
		t.Errorf("QueryByName(BOGUS): want ErrNotFound, got %v", err)
	}
	// Lower-case names are accepted.
	if _, err := packfmt.QueryByName(blob, "zh-cn", "task001", "text"); err != nil {
		t.Errorf("QueryByName(text): unexpected error: %v", err)
	}
}

func TestPackEmpty(t *testing.T) {
	t.Parallel()

	want := make([]byte, 16)
	binary.LittleEndian.PutUint32(want[0:], 4)
	binary.LittleEndian.PutUint32(want[4:], 0)
	binary.LittleEndian.PutUint32(want[8:], 16)
	binary.LittleEndian.PutUint32(want[12:], 16)

	tests := []struct {
		name  string
		tasks []packfmt.TaskPayload
	}{
		{"no tasks", nil},
		{"task without translations", []packfmt.TaskPayload{{TaskID: "empty"}}},
		{"translations without text", []packfmt.TaskPayload{{
			TaskID:               "orphan",
			OriginalTranslations: map[string]string{"en": "never packed"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			blob, err := packfmt.Pack(tt.tasks)
			if err != nil {
				t.Fatalf("Pack: unexpected error: %v", err)
			}
			if !bytes.Equal(blob, want) {
				t.Errorf("Pack: want header %x, got %x", want, blob)
			}
		})
	}
}

func TestPackDeterminism(t *testing.T) {
	t.Parallel()

	a, err := packfmt.Pack(samplePayloads())
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}
	b, err := packfmt.Pack(samplePayloads())
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Pack: identical inputs produced different blobs")
	}
}

func TestLongTaskIDTruncation(t *testing.T) {
	t.Parallel()

	const longID = "very_long_task_id_that_exceeds_8_bytes"
	blob, err := packfmt.Pack([]packfmt.TaskPayload{{
		TaskID:               longID,
		OriginalText:         "Test",
		OriginalTranslations: map[string]string{"en": "Test"},
	}})
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}

	// The full id and any id sharing its first 8 bytes resolve to the entry.
	got, err := packfmt.Query(blob, "en", longID, packfmt.SourceText)
	if err != nil {
		t.Fatalf("Query(full id): unexpected error: %v", err)
	}
	if got != "Test" {
		t.Errorf("Query(full id): want %q, got %q", "Test", got)
	}
	if _, err := packfmt.Query(blob, "en", "very_lon", packfmt.SourceText); err != nil {
		t.Errorf("Query(8-byte prefix): unexpected error: %v", err)
	}
	if _, err := packfmt.Query(blob, "en", "other_id", packfmt.SourceText); !errors.Is(err, packfmt.ErrNotFound) {
		t.Errorf("Query(distinct id): want ErrNotFound, got %v", err)
	}
}

func TestLongLanguageTagTruncation(t *testing.T) {
	t.Parallel()

	// "zh-Hant-HK" exceeds the 6-byte code field; the table stores the true
	// length plus a truncated code, and lookups still succeed.
	blob, err := packfmt.Pack([]packfmt.TaskPayload{{
		TaskID:               "t1",
		OriginalText:         "hello",
		OriginalTranslations: map[string]string{"zh-Hant-HK": "你好"},
	}})
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}
	got, err := packfmt.Query(blob, "zh-Hant-HK", "t1", packfmt.SourceText)
	if err != nil {
		t.Fatalf("Query: unexpected error: %v", err)
	}
	if got != "你好" {
		t.Errorf("Query: want %q, got %q", "你好", got)
	}
}

func TestQueryTruncatedBlob(t *testing.T) {
	t.Parallel()

	blob, err := packfmt.Pack(samplePayloads())
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}

	for _, n := range []int{0, 8, 15} {
		if _, err := packfmt.Query(blob[:n], "zh-cn", "task001", packfmt.SourceText); !errors.Is(err, packfmt.ErrNotFound) {
			t.Errorf("Query(blob[:%d]): want ErrNotFound, got %v", n, err)
		}
	}
}

func TestQueryCorruptData(t *testing.T) {
	t.Parallel()

	blob, err := packfmt.Pack([]packfmt.TaskPayload{{
		TaskID:               "t1",
		OriginalText:         "hello",
		OriginalTranslations: map[string]string{"en": "hello there"},
	}})
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}

	// Damage the zlib stream: the text-data region starts at textDataOffset.
	textDataOffset := binary.LittleEndian.Uint32(blob[12:16])
	corrupt := bytes.Clone(blob)
	corrupt[textDataOffset] ^= 0xFF

	_, err = packfmt.Query(corrupt, "en", "t1", packfmt.SourceText)
	if !errors.Is(err, packfmt.ErrCorrupt) {
		t.Errorf("Query: want ErrCorrupt, got %v", err)
	}
	if errors.Is(err, packfmt.ErrNotFound) {
		t.Error("Query: corrupt data must not be reported as ErrNotFound")
	}
}

func TestSourceTypeOrderWithinTask(t *testing.T) {
	t.Parallel()

	// Same task and language on both source types stay distinct.
	blob, err := packfmt.Pack([]packfmt.TaskPayload{{
		TaskID:               "t1",
		OriginalText:         "written",
		OriginalTranslations: map[string]string{"de": "geschrieben"},
		STTText:              "spoken",
		STTTranslations:      map[string]string{"de": "gesprochen"},
	}})
	if err != nil {
		t.Fatalf("Pack: unexpected error: %v", err)
	}

	text, err := packfmt.Query(blob, "de", "t1", packfmt.SourceText)
	if err != nil {
		t.Fatalf("Query(TEXT): unexpected error: %v", err)
	}
	audio, err := packfmt.Query(blob, "de", "t1", packfmt.SourceAudio)
	if err != nil {
		t.Fatalf("Query(AUDIO): unexpected error: %v", err)
	}
	if text != "geschrieben" || audio != "gesprochen" {
		t.Errorf("want (geschrieben, gesprochen), got (%q, %q)", text, audio)
	}
}

func TestParseSourceType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   packfmt.SourceType
		wantOK bool
	}{
		{"TEXT", packfmt.SourceText, true},
		{"text", packfmt.SourceText, true},
		{"AUDIO", packfmt.SourceAudio, true},
		{"Audio", packfmt.SourceAudio, true},
		{"", 0, false},
		{"VIDEO", 0, false},
	}
	for _, tt := range tests {
		got, ok := packfmt.ParseSourceType(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("ParseSourceType(%q): want (%v, %v), got (%v, %v)", tt.in, tt.want, tt.wantOK, got, ok)
		}
	}
}
