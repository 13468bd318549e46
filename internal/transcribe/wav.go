package transcribe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavData is the decoded payload of a RIFF/WAV file: raw 16-bit signed
// little-endian PCM plus the format fields needed to interpret it.
type wavData struct {
	pcm        []byte
	sampleRate int
	channels   int
}

var errNotWAV = errors.New("not a RIFF/WAV file")

// decodeWAV walks the RIFF chunk list and extracts the fmt and data chunks.
// Only uncompressed 16-bit PCM is accepted; the operator supplies
// pre-converted audio.
func decodeWAV(data []byte) (wavData, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavData{}, errNotWAV
	}

	var (
		w       wavData
		sawFmt  bool
		sawData bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return wavData{}, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return wavData{}, fmt.Errorf("short fmt chunk (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return wavData{}, fmt.Errorf("unsupported audio format %d, want PCM", format)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return wavData{}, fmt.Errorf("unsupported sample width %d bits, want 16", bits)
			}
			w.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			w.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			sawFmt = true
		case "data":
			w.pcm = data[body : body+size]
			sawData = true
		}

		// Chunks are word-aligned; odd sizes carry one pad byte.
		off = body + size + size%2
	}

	if !sawFmt || !sawData {
		return wavData{}, errors.New("missing fmt or data chunk")
	}
	if w.channels <= 0 || w.sampleRate <= 0 {
		return wavData{}, fmt.Errorf("invalid format: %d channels at %d Hz", w.channels, w.sampleRate)
	}
	return w, nil
}

// monoSamples converts the PCM payload to mono float32 in [-1, 1],
// averaging channels per frame.
func (w wavData) monoSamples() []float32 {
	frames := len(w.pcm) / (2 * w.channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range w.channels {
			idx := (i*w.channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(w.pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(w.channels)
	}
	return mono
}
