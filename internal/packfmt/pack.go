package packfmt

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"sort"
)

// textEntry is one text-index record accumulated during packing.
type textEntry struct {
	taskID     [taskIDSize]byte
	dataOffset uint32
	dataLength uint32
	sourceType SourceType
}

// Pack serialises the translations of tasks into a single blob. Output is
// deterministic for a given input order: languages appear in lexicographic
// tag order, and within a language text entries preserve the input task
// order with TEXT before AUDIO for the same task.
//
// Tasks with no translations contribute nothing; if no task carries any
// translation the result is the bare 16-byte header.
func Pack(tasks []TaskPayload) ([]byte, error) {
	langSet := make(map[string]struct{})
	for _, task := range tasks {
		if task.OriginalText != "" {
			for lang := range task.OriginalTranslations {
				langSet[lang] = struct{}{}
			}
		}
		if task.STTText != "" {
			for lang := range task.STTTranslations {
				langSet[lang] = struct{}{}
			}
		}
	}

	if len(langSet) == 0 {
		header := make([]byte, headerSize)
		binary.LittleEndian.PutUint32(header[0:], Version)
		binary.LittleEndian.PutUint32(header[4:], 0)
		binary.LittleEndian.PutUint32(header[8:], headerSize)
		binary.LittleEndian.PutUint32(header[12:], headerSize)
		return header, nil
	}

	languages := make([]string, 0, len(langSet))
	for lang := range langSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	// Language table: fixed 8-byte items in sorted tag order.
	langTable := make([]byte, 0, len(languages)*langTableItemSize)
	for _, lang := range languages {
		code := []byte(lang)
		item := make([]byte, langTableItemSize)
		binary.LittleEndian.PutUint16(item[0:], uint16(len(code)))
		copy(item[2:], code) // copy truncates at 6 bytes; the rest stays NUL
		langTable = append(langTable, item...)
	}

	// Gather per-language entries and the compressed data region. Tasks are
	// visited in input order; within a task TEXT precedes AUDIO, and a task's
	// translation map is walked in sorted tag order so offsets are stable.
	perLang := make(map[string][]textEntry, len(languages))
	var textData bytes.Buffer
	appendEntry := func(lang string, id [taskIDSize]byte, st SourceType, text string) error {
		start := textData.Len()
		zw, err := zlib.NewWriterLevel(&textData, zlib.BestCompression)
		if err != nil {
			return fmt.Errorf("packfmt: init compressor: %w", err)
		}
		if _, err := zw.Write([]byte(text)); err != nil {
			return fmt.Errorf("packfmt: compress text: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("packfmt: compress text: %w", err)
		}
		perLang[lang] = append(perLang[lang], textEntry{
			taskID:     id,
			dataOffset: uint32(start),
			dataLength: uint32(textData.Len() - start),
			sourceType: st,
		})
		return nil
	}

	for _, task := range tasks {
		id := padTaskID(task.TaskID)
		if task.OriginalText != "" {
			for _, lang := range sortedKeys(task.OriginalTranslations) {
				if err := appendEntry(lang, id, SourceText, task.OriginalTranslations[lang]); err != nil {
					return nil, err
				}
			}
		}
		if task.STTText != "" {
			for _, lang := range sortedKeys(task.STTTranslations) {
				if err := appendEntry(lang, id, SourceAudio, task.STTTranslations[lang]); err != nil {
					return nil, err
				}
			}
		}
	}

	// Language index and text index, both in sorted tag order. The relative
	// offset counts bytes already emitted into the text-index region.
	langIndex := make([]byte, 0, len(languages)*langIndexItemSize)
	var textIndex bytes.Buffer
	for _, lang := range languages {
		entries := perLang[lang]

		item := make([]byte, langIndexItemSize)
		binary.LittleEndian.PutUint32(item[0:], langHash(lang))
		binary.LittleEndian.PutUint32(item[4:], uint32(textIndex.Len()))
		binary.LittleEndian.PutUint32(item[8:], uint32(len(entries)))
		langIndex = append(langIndex, item...)

		for _, e := range entries {
			rec := make([]byte, textIndexItemSize)
			copy(rec[0:], e.taskID[:])
			binary.LittleEndian.PutUint32(rec[8:], e.dataOffset)
			binary.LittleEndian.PutUint32(rec[12:], e.dataLength)
			binary.LittleEndian.PutUint16(rec[16:], uint16(e.sourceType))
			binary.LittleEndian.PutUint16(rec[18:], 0)
			textIndex.Write(rec)
		}
	}

	langIndexOffset := headerSize + len(langTable)
	textDataOffset := langIndexOffset + len(langIndex) + textIndex.Len()

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], Version)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(languages)))
	binary.LittleEndian.PutUint32(header[8:], uint32(langIndexOffset))
	binary.LittleEndian.PutUint32(header[12:], uint32(textDataOffset))

	blob := make([]byte, 0, textDataOffset+textData.Len())
	blob = append(blob, header...)
	blob = append(blob, langTable...)
	blob = append(blob, langIndex...)
	blob = append(blob, textIndex.Bytes()...)
	blob = append(blob, textData.Bytes()...)
	return blob, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
