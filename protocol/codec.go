package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's JSON payload. A peer announcing a
// larger (or zero) length is protocol-broken and the connection is closed.
const MaxFrameSize = 10 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame header announces a payload
// outside (0, MaxFrameSize].
var ErrFrameTooLarge = errors.New("frame length out of bounds")

// Codec frames JSON payloads with a 4-byte little-endian length prefix over
// a byte stream. A Codec is not safe for concurrent use; callers serialize
// access (the IPC client holds a mutex, the server processes one frame at a
// time per connection).
type Codec struct {
	rw io.ReadWriter
}

// NewCodec wraps a stream.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// WriteFrame marshals v and writes it as one length-prefixed frame.
func (c *Codec) WriteFrame(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(payload) == 0 || len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := c.rw.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := c.rw.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and returns its raw JSON payload. io.EOF is
// returned unwrapped on clean connection close before a header byte arrives;
// a partial header yields io.ErrUnexpectedEOF.
func (c *Codec) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.rw, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 || length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}

// ReadRequest reads and decodes one request frame.
func (c *Codec) ReadRequest() (*Request, error) {
	payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &req, nil
}

// ReadResponse reads and decodes one response frame.
func (c *Codec) ReadResponse() (*Response, error) {
	payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &resp, nil
}

// DecodeError marks a frame whose payload was not valid JSON for the
// expected shape. The framing itself was intact, so the connection can keep
// serving after the server replies with a parse error.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
