// Package packfmt implements the packed translation container: a compact
// binary blob mapping (language, task id, source type) to a zlib-compressed
// UTF-8 translation, with random-access lookups that never decode the whole
// blob.
//
// Layout (all multi-byte integers little-endian):
//
//	[0..16)   header         version(u32) | langCount(u32) | langIndexOffset(u32) | textDataOffset(u32)
//	[16..L1)  language table per language: u16 codeLen, 6 bytes code (NUL-padded, truncated)
//	[L1..L2)  language index langCount × (u32 codeHash, u32 textIndexRelOffset, u32 textCount)
//	[L2..L3)  text index     Σ textCount × (8-byte taskID, u32 dataOffset, u32 dataLength, u16 sourceType, u16 reserved)
//	[L3..EOF) text data      concatenated zlib streams
//
// The language hash is the first 32 bits of the MD5 of the code's UTF-8
// bytes, read big-endian. Task ids are truncated to their first 8 UTF-8
// bytes and NUL-padded; lookups apply the same rule.
package packfmt

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"strings"
)

// Version is the container format version emitted by [Pack].
const Version = 4

const (
	headerSize        = 16
	langTableItemSize = 8
	langIndexItemSize = 12
	textIndexItemSize = 20
	taskIDSize        = 8
	langCodeSize      = 6
)

// ErrNotFound reports that the requested (language, task, source) triple is
// not present in the blob. Truncated blobs and unknown source-type strings
// also report ErrNotFound; corrupt entry data does not (see [ErrCorrupt]).
var ErrNotFound = errors.New("packfmt: entry not found")

// ErrCorrupt reports that a located entry could not be decoded: the
// compressed stream is damaged or the inflated bytes are not valid UTF-8.
var ErrCorrupt = errors.New("packfmt: corrupt entry data")

// SourceType identifies where a packed text originated.
type SourceType uint16

const (
	// SourceText marks translations of user-provided text.
	SourceText SourceType = 0

	// SourceAudio marks translations of a speech transcript.
	SourceAudio SourceType = 1
)

// String returns the canonical name of the source type.
func (s SourceType) String() string {
	switch s {
	case SourceText:
		return "TEXT"
	case SourceAudio:
		return "AUDIO"
	default:
		return "UNKNOWN"
	}
}

// ParseSourceType converts a case-insensitive source-type name into its
// numeric form. ok is false for anything other than "TEXT" or "AUDIO".
func ParseSourceType(s string) (st SourceType, ok bool) {
	switch strings.ToUpper(s) {
	case "TEXT":
		return SourceText, true
	case "AUDIO":
		return SourceAudio, true
	default:
		return 0, false
	}
}

// TaskPayload is one task's contribution to a packed blob. A translation set
// is packed only when both its source text and its map are non-empty.
type TaskPayload struct {
	TaskID string

	// OriginalText and OriginalTranslations cover the user-provided text
	// (source type TEXT).
	OriginalText         string
	OriginalTranslations map[string]string

	// STTText and STTTranslations cover the speech transcript
	// (source type AUDIO).
	STTText         string
	STTTranslations map[string]string
}

// langHash returns the first 32 bits of the MD5 of code, big-endian. This is
// deterministic across runs; the accepted collision risk is mitigated at
// query time by verifying against the language table.
func langHash(code string) uint32 {
	sum := md5.Sum([]byte(code))
	return binary.BigEndian.Uint32(sum[:4])
}

// padTaskID truncates id to its first 8 UTF-8 bytes and right-pads with NUL.
func padTaskID(id string) [taskIDSize]byte {
	var out [taskIDSize]byte
	copy(out[:], id)
	return out
}
