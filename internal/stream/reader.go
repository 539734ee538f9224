package stream

import (
	"bufio"
	"errors"
	"io"
)

const maxLineSize = 4 * 1024 * 1024

// Reader decodes frames from a newline-delimited data stream. Lines with a
// kind this package does not model are skipped.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next frame, or io.EOF when the stream ends.
func (r *Reader) Next() (Frame, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := Parse(line)
		if errors.Is(err, ErrUnknownKind) {
			continue
		}
		if err != nil {
			return Frame{}, err
		}
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
