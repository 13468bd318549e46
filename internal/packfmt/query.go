package packfmt

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// Query looks up the translation for (language, taskID, source) in blob and
// returns the decoded UTF-8 string. The lookup touches only the header, the
// language index, one language's text index, and the matched data slice.
//
// Missing entries, truncated blobs, and out-of-range index records report
// [ErrNotFound]. A located entry whose data fails to inflate or is not valid
// UTF-8 reports [ErrCorrupt].
func Query(blob []byte, language, taskID string, source SourceType) (string, error) {
	if len(blob) < headerSize {
		return "", ErrNotFound
	}
	if source != SourceText && source != SourceAudio {
		return "", ErrNotFound
	}

	langCount := binary.LittleEndian.Uint32(blob[4:8])
	langIndexOffset := int(binary.LittleEndian.Uint32(blob[8:12]))
	textDataOffset := int(binary.LittleEndian.Uint32(blob[12:16]))

	// Locate the language in the index by hash, verified against the
	// language table at the same ordinal so hash collisions cannot resolve
	// to the wrong language.
	wantHash := langHash(language)
	textIndexStart, textCount := -1, 0
	for i := 0; i < int(langCount); i++ {
		pos := langIndexOffset + i*langIndexItemSize
		if pos+langIndexItemSize > len(blob) {
			break
		}
		if binary.LittleEndian.Uint32(blob[pos:]) != wantHash {
			continue
		}
		if !langTableMatches(blob, i, language) {
			continue
		}
		relOffset := int(binary.LittleEndian.Uint32(blob[pos+4:]))
		textIndexStart = langIndexOffset + int(langCount)*langIndexItemSize + relOffset
		textCount = int(binary.LittleEndian.Uint32(blob[pos+8:]))
		break
	}
	if textIndexStart < 0 {
		return "", ErrNotFound
	}

	wantID := padTaskID(taskID)
	for i := 0; i < textCount; i++ {
		pos := textIndexStart + i*textIndexItemSize
		if pos+textIndexItemSize > len(blob) {
			break
		}
		if !bytes.Equal(blob[pos:pos+taskIDSize], wantID[:]) {
			continue
		}
		if SourceType(binary.LittleEndian.Uint16(blob[pos+16:])) != source {
			continue
		}

		dataOffset := int(binary.LittleEndian.Uint32(blob[pos+8:]))
		dataLength := int(binary.LittleEndian.Uint32(blob[pos+12:]))
		start := textDataOffset + dataOffset
		end := start + dataLength
		if start < 0 || end > len(blob) || start > end {
			return "", ErrNotFound
		}
		return inflate(blob[start:end])
	}
	return "", ErrNotFound
}

// QueryByName is [Query] for callers holding the source type as a string,
// e.g. straight off the wire. Unrecognised names report [ErrNotFound]
// without scanning the blob.
func QueryByName(blob []byte, language, taskID, sourceName string) (string, error) {
	source, ok := ParseSourceType(sourceName)
	if !ok {
		return "", ErrNotFound
	}
	return Query(blob, language, taskID, source)
}

// langTableMatches reports whether the language-table entry at ordinal i
// describes code. The table stores the true code length but at most 6 code
// bytes, so comparison covers the stored prefix plus the length.
func langTableMatches(blob []byte, i int, code string) bool {
	pos := headerSize + i*langTableItemSize
	if pos+langTableItemSize > len(blob) {
		return false
	}
	storedLen := int(binary.LittleEndian.Uint16(blob[pos:]))
	if storedLen != len(code) {
		return false
	}
	n := storedLen
	if n > langCodeSize {
		n = langCodeSize
	}
	return bytes.Equal(blob[pos+2:pos+2+n], []byte(code)[:n])
}

// inflate decompresses one zlib stream and validates the result as UTF-8.
func inflate(data []byte) (string, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: inflated text is not valid UTF-8", ErrCorrupt)
	}
	return string(raw), nil
}
