// Compression round-trip tests.
//
// backup.go's segment-archive export stores each segment as a
// zstd-compressed, ascii85-encoded blob. A compression bug has two
// failure modes: silent data corruption (the decompressed output
// differs from the original) or a crash during decompression (invalid
// zstd frame). Either would make a restored segment unreadable or
// byte-wrong. These tests verify that every byte survives the round
// trip for a variety of inputs: text, binary, empty, unicode, and
// large payloads.
package corestore

import (
	"bytes"
	"testing"
)

// TestCompressDecompressRoundTrip verifies that compress→decompress is
// the identity function for a range of input types. Each input exercises
// a different edge case in zstd or ascii85: empty input (compress's
// empty-string fast path), binary data (ascii85 must handle all 256
// byte values), unicode (multi-byte sequences must not be split), and
// JSON (a typical text payload).
func TestCompressDecompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"simple text", []byte("hello world")},
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"binary data", []byte{0x00, 0x01, 0xff, 0xfe, 0x80, 0x7f}},
		{"unicode", []byte("日本語テキスト")},
		{"json", []byte(`{"key": "value", "num": 123}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := compress(tt.data)
			decoded, err := decompress(encoded)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}

			if !bytes.Equal(decoded, tt.data) {
				t.Errorf("round trip failed: got %v, want %v", decoded, tt.data)
			}
		})
	}
}

// TestCompressEmpty verifies that compressing empty input returns an
// empty string rather than a minimal zstd frame, so that
// decompress("") can return nil without attempting to decode a frame.
func TestCompressEmpty(t *testing.T) {
	result := compress([]byte{})
	if result != "" {
		t.Errorf("compress(empty) = %q, want empty string", result)
	}
}

// TestDecompressEmpty verifies the empty-string fast path in
// decompress: the empty string that compress produces for empty input
// must decode back to nil without error.
func TestDecompressEmpty(t *testing.T) {
	result, err := decompress("")
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if result != nil {
		t.Errorf("decompress(empty) = %v, want nil", result)
	}
}

// TestCompressLargeData verifies a 1MB round-trip. If the zstd encoder
// had a buffer size limit or the ascii85 encoder lost trailing bytes,
// a large archived segment would be silently truncated.
func TestCompressLargeData(t *testing.T) {
	// 1MB of data
	data := bytes.Repeat([]byte("test data for compression "), 40000)

	encoded := compress(data)
	decoded, err := decompress(encoded)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	if !bytes.Equal(decoded, data) {
		t.Errorf("large data round trip failed: lengths got %d, want %d", len(decoded), len(data))
	}
}

// TestCompressReducesSize verifies that highly repetitive content
// compresses to fewer bytes than the original. If zstd were
// misconfigured (e.g. level 0 = no compression), the ascii85 encoding
// would make every archived segment larger than its source bytes.
func TestCompressReducesSize(t *testing.T) {
	// Highly repetitive content should compress well
	data := bytes.Repeat([]byte("aaaaaaaaaa"), 1000)

	encoded := compress(data)

	if len(encoded) >= len(data) {
		t.Errorf("compression did not reduce size: encoded %d >= original %d", len(encoded), len(data))
	}
}

// TestCompressOutputPrintable verifies that every byte in the compressed
// output falls within the ascii85 printable range (33–117). backup.go
// embeds the output in a JSON archive — if it contained control
// characters or double quotes, the archive would need escaping.
func TestCompressOutputPrintable(t *testing.T) {
	data := []byte("test content for ascii85 encoding")
	encoded := compress(data)

	for i, b := range encoded {
		if b < 33 || b > 117 {
			// Ascii85 uses printable chars from ! (33) to u (117)
			t.Errorf("non-printable byte at position %d: %d (%c)", i, b, b)
		}
	}
}

// TestCompressBinaryData verifies that all 256 possible byte values
// survive the round-trip. zstd handles arbitrary binary data, but
// ascii85 encodes in 5-byte groups and pads the last group — if the
// padding logic were wrong, the last 1–3 bytes of the decompressed
// output would be corrupt, which for zstd means an invalid frame
// trailer and a decompression error.
func TestCompressBinaryData(t *testing.T) {
	// All possible byte values
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	encoded := compress(data)
	decoded, err := decompress(encoded)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	if !bytes.Equal(decoded, data) {
		t.Error("binary data round trip failed")
	}
}
