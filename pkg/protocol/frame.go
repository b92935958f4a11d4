package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultMaxHeaderSize is the largest header block accepted (8 KB)
	DefaultMaxHeaderSize = 8 * 1024

	// DefaultMaxBodySize is the largest Content-Length accepted (64 KB)
	DefaultMaxBodySize = 64 * 1024

	crlf = "\r\n"
)

var headerTerminator = []byte("\r\n\r\n")

var (
	// ErrProtocolSyntax is the root of every malformed-frame error
	ErrProtocolSyntax       = errors.New("protocol syntax error")
	ErrUnsupportedVersion   = fmt.Errorf("%w: unsupported protocol version", ErrProtocolSyntax)
	ErrInvalidContentLength = fmt.Errorf("%w: invalid Content-Length", ErrProtocolSyntax)

	ErrHeaderTooLarge    = errors.New("header block exceeds maximum size")
	ErrFrameTooLarge     = errors.New("body exceeds maximum size")
	ErrIncompleteMessage = errors.New("incomplete message")
)

// SyntaxError reports a malformed header block. It unwraps to
// ErrProtocolSyntax or one of the errors derived from it.
type SyntaxError struct {
	Line string // Offending line
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Line)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Decoder reassembles messages from an arbitrarily fragmented byte stream.
//
// The receive buffer is consumed strictly left to right: Feed appends at the
// tail and every completed message is cut from the head. A header block whose
// body has not fully arrived is parsed once and kept as pending, so later
// calls neither re-parse nor double-consume it.
//
// A Decoder is not safe for concurrent use; each connection owns one.
type Decoder struct {
	buf           []byte
	maxHeaderSize int
	maxBodySize   int

	// Header parsed, waiting for the body
	pending   *Message
	bodyStart int
	total     int

	// Sticky: once a fault is seen the stream cannot be resynchronised
	err error
}

// NewDecoder creates a decoder with the given limits. Non-positive values
// select DefaultMaxHeaderSize and DefaultMaxBodySize.
func NewDecoder(maxHeaderSize, maxBodySize int) *Decoder {
	if maxHeaderSize <= 0 {
		maxHeaderSize = DefaultMaxHeaderSize
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Decoder{
		maxHeaderSize: maxHeaderSize,
		maxBodySize:   maxBodySize,
	}
}

// Feed appends chunk to the receive buffer and returns every message that is
// now complete, in stream order.
//
// On a malformed or oversized frame Feed returns the messages completed
// before the fault together with the error. The decoder then discards its
// buffer and returns the same error from every later call.
func (d *Decoder) Feed(chunk []byte) ([]*Message, error) {
	if d.err != nil {
		return nil, d.err
	}

	d.buf = append(d.buf, chunk...)

	var out []*Message
	for {
		msg, err := d.next()
		if err != nil {
			d.err = err
			d.buf = nil
			d.pending = nil
			return out, err
		}
		if msg == nil {
			return out, nil
		}
		out = append(out, msg)
	}
}

// Buffered returns the number of bytes held waiting for a complete message.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Err returns the fault that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// next extracts one message from the head of the buffer. It returns
// (nil, nil) when more data is needed.
func (d *Decoder) next() (*Message, error) {
	if d.pending == nil {
		headerEnd := bytes.Index(d.buf, headerTerminator)
		if headerEnd == -1 {
			// The terminator may be split across chunks, allow for its length
			if len(d.buf) >= d.maxHeaderSize+len(headerTerminator) {
				return nil, ErrHeaderTooLarge
			}
			return nil, nil
		}
		if headerEnd > d.maxHeaderSize {
			return nil, ErrHeaderTooLarge
		}

		msg, contentLength, err := parseHeaderBlock(d.buf[:headerEnd])
		if err != nil {
			return nil, err
		}
		if contentLength > d.maxBodySize {
			return nil, fmt.Errorf("%w: Content-Length %d exceeds %d", ErrFrameTooLarge, contentLength, d.maxBodySize)
		}

		d.pending = msg
		d.bodyStart = headerEnd + len(headerTerminator)
		d.total = d.bodyStart + contentLength
	}

	// Body not complete yet
	if len(d.buf) < d.total {
		return nil, nil
	}

	msg := d.pending
	msg.Body = make([]byte, d.total-d.bodyStart)
	copy(msg.Body, d.buf[d.bodyStart:d.total])

	// Advance the window, reusing the backing array
	n := copy(d.buf, d.buf[d.total:])
	d.buf = d.buf[:n]

	d.pending = nil
	d.bodyStart = 0
	d.total = 0

	return msg, nil
}

// parseHeaderBlock parses the start line and header lines preceding the
// blank-line separator and returns the Content-Length to expect.
func parseHeaderBlock(block []byte) (*Message, int, error) {
	lines := strings.Split(string(block), crlf)

	startLine := lines[0]
	version, verb, ok := strings.Cut(startLine, " ")
	if !ok || version == "" || verb == "" {
		return nil, 0, &SyntaxError{Line: startLine, Err: ErrProtocolSyntax}
	}
	if version != Version {
		return nil, 0, &SyntaxError{Line: startLine, Err: ErrUnsupportedVersion}
	}

	msg := &Message{
		Version: version,
		Verb:    verb,
	}

	contentLength := 0
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		msg.Headers = append(msg.Headers, Header{Name: name, Value: value})

		if strings.EqualFold(name, HeaderContentLength) {
			n, err := strconv.Atoi(value)
			if err != nil {
				// Unparsable counts as absent
				contentLength = 0
				continue
			}
			if n < 0 {
				return nil, 0, &SyntaxError{Line: line, Err: ErrInvalidContentLength}
			}
			contentLength = n
		}
	}

	return msg, contentLength, nil
}

// Decode parses exactly one complete message from data using the default
// limits. Trailing bytes after the message are an error.
func Decode(data []byte) (*Message, error) {
	d := NewDecoder(0, 0)
	msgs, err := d.Feed(data)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrIncompleteMessage
	}
	if len(msgs) > 1 || d.Buffered() > 0 {
		return nil, fmt.Errorf("%w: trailing data after message", ErrProtocolSyntax)
	}
	return msgs[0], nil
}
