package otlp

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DecodeError is returned when a payload parses as neither an export request
// nor a bare TracesData message. Offset is the first byte at which the
// top-level wire structure stops being well-formed, or -1 if the corruption
// sits inside a nested message.
type DecodeError struct {
	Offset int
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("otlp: decode payload at offset %d: %v", e.Offset, e.Cause)
	}
	return fmt.Sprintf("otlp: decode payload: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// corruptOffset walks the top-level fields of b and returns the offset of the
// first field that fails to parse.
func corruptOffset(b []byte) int {
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return off
		}
		m := protowire.ConsumeFieldValue(num, typ, b[off+n:])
		if m < 0 {
			return off
		}
		off += n + m
	}
	return -1
}
