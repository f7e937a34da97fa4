package otlp

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// ErrDecompressedTooLarge is returned when a compressed payload inflates past
// the configured limit.
var ErrDecompressedTooLarge = errors.New("otlp: decompressed payload exceeds limit")

// Encoding is the compression format detected from a payload's magic bytes.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingGzip
	EncodingZlib
)

func (e Encoding) String() string {
	switch e {
	case EncodingGzip:
		return "gzip"
	case EncodingZlib:
		return "zlib"
	default:
		return "none"
	}
}

// DetectEncoding sniffs the first two bytes of payload.
func DetectEncoding(payload []byte) Encoding {
	if len(payload) < 2 {
		return EncodingNone
	}
	switch {
	case payload[0] == 0x1f && payload[1] == 0x8b:
		return EncodingGzip
	case payload[0] == 0x78 && (payload[1] == 0x01 || payload[1] == 0x9c || payload[1] == 0xda):
		return EncodingZlib
	default:
		return EncodingNone
	}
}

// Decompress inflates gzip or zlib payloads. Payloads without a recognized
// magic prefix are returned unchanged. limit <= 0 disables the size bound.
func Decompress(payload []byte, limit int64) ([]byte, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch DetectEncoding(payload) {
	case EncodingGzip:
		r, err = gzip.NewReader(bytes.NewReader(payload))
	case EncodingZlib:
		r, err = zlib.NewReader(bytes.NewReader(payload))
	default:
		return payload, nil
	}
	if err != nil {
		return nil, fmt.Errorf("otlp: open decompressor: %w", err)
	}
	defer func() { _ = r.Close() }()

	var src io.Reader = r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("otlp: decompress: %w", err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, ErrDecompressedTooLarge
	}
	return out, nil
}
