package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gwi.com/jedi-chat-client/internal/store"
)

// ErrDecode marks a frame whose payload is not valid JSON.
var ErrDecode = errors.New("malformed reply frame")

const doneMarker = "[DONE]"

// Frame is one decoded `data:` line of a reply stream.
type Frame struct {
	Delta   *string        `json:"delta,omitempty"`
	Message *store.Message `json:"message,omitempty"`
	Done    bool           `json:"-"`
}

// Decoder turns arbitrarily split network chunks into frames. Bytes after
// the last newline are kept until the next Feed or Flush.
type Decoder struct {
	buf []byte
}

// Feed appends p and returns the frames of every line it completes.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	d.buf = append(d.buf, p...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		frame, ok, err := parseLine(line)
		if err != nil {
			return frames, err
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}
	return frames, nil
}

// Flush decodes an unterminated final line at end of stream.
func (d *Decoder) Flush() ([]Frame, error) {
	line := d.buf
	d.buf = nil
	if len(line) == 0 {
		return nil, nil
	}
	frame, ok, err := parseLine(line)
	if err != nil || !ok {
		return nil, err
	}
	return []Frame{frame}, nil
}

func parseLine(line []byte) (Frame, bool, error) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return Frame{}, false, nil
	}

	field, value, found := bytes.Cut(line, []byte(":"))
	if !found || string(field) != "data" {
		return Frame{}, false, nil
	}
	value = bytes.TrimPrefix(value, []byte(" "))
	if len(bytes.TrimSpace(value)) == 0 {
		return Frame{}, false, nil
	}
	if string(bytes.TrimSpace(value)) == doneMarker {
		return Frame{Done: true}, true, nil
	}

	var frame Frame
	if err := json.Unmarshal(value, &frame); err != nil {
		return Frame{}, false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return frame, true, nil
}

// Reader yields the frames of a streamed body one at a time.
type Reader struct {
	r       io.Reader
	dec     Decoder
	buf     []byte
	pending []Frame
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, 4096)}
}

// Next returns the next frame, or io.EOF once the body is exhausted. Frames
// decoded before a malformed line are delivered before its error.
func (r *Reader) Next() (Frame, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Frame{}, r.err
		}
		r.fill()
	}
	frame := r.pending[0]
	r.pending = r.pending[1:]
	return frame, nil
}

func (r *Reader) fill() {
	n, err := r.r.Read(r.buf)
	if n > 0 {
		frames, decErr := r.dec.Feed(r.buf[:n])
		r.pending = append(r.pending, frames...)
		if decErr != nil {
			r.err = decErr
			return
		}
	}
	switch {
	case err == io.EOF:
		frames, decErr := r.dec.Flush()
		r.pending = append(r.pending, frames...)
		r.err = io.EOF
		if decErr != nil {
			r.err = decErr
		}
	case err != nil:
		r.err = err
	}
}
