package protocol

import (
	"bytes"
	"io"
	"strconv"
	"strings"
)

const (
	// Version is the only protocol version token accepted on the start line
	Version = "CHAT/1.0"

	// Response status tokens
	StatusOK      = "OK"
	StatusError   = "ERROR"
	StatusMessage = "MESSAGE"

	// ServerUser is the User header value on server-authored announcements
	ServerUser = "SERVER"
)

// Header names
const (
	HeaderUser          = "User"
	HeaderToken         = "Token"
	HeaderContentLength = "Content-Length"
	HeaderError         = "Error"
	HeaderResponseFor   = "Response-For"
)

// Header is a single name/value pair from a header block
type Header struct {
	Name  string
	Value string
}

// Message is one CHAT/1.0 frame: a request (Verb is a command name) or a
// response (Verb is OK, ERROR or MESSAGE).
//
// Headers keep their wire order. Lookups through Get are case-insensitive.
// The header line style follows the verb: responses (OK, ERROR, MESSAGE) are
// written "Name: value", everything else "Name:value" as clients send it.
type Message struct {
	Version string
	Verb    string
	Headers []Header
	Body    []byte
}

// NewRequest creates a request message for the given command verb.
func NewRequest(verb string) *Message {
	return &Message{Version: Version, Verb: verb}
}

// NewResponse creates a response with the given status answering the given
// request verb. Response-For is always the first header.
func NewResponse(status, responseFor string) *Message {
	m := &Message{Version: Version, Verb: status}
	m.Headers = append(m.Headers, Header{Name: HeaderResponseFor, Value: responseFor})
	return m
}

// NewErrorResponse creates an ERROR response carrying a human-readable reason.
func NewErrorResponse(responseFor, reason string) *Message {
	return NewResponse(StatusError, responseFor).WithHeader(HeaderError, reason)
}

// NewChatMessage creates a MESSAGE response from sender carrying body.
func NewChatMessage(responseFor, sender string, body []byte) *Message {
	return NewResponse(StatusMessage, responseFor).
		WithHeader(HeaderUser, sender).
		WithBody(body)
}

// NewServerMessage creates a server-authored MESSAGE announcement.
func NewServerMessage(responseFor, text string) *Message {
	return NewChatMessage(responseFor, ServerUser, []byte(text))
}

// WithHeader appends a header and returns the message for chaining.
// Content-Length is ignored here; it is always derived from the body.
func (m *Message) WithHeader(name, value string) *Message {
	if strings.EqualFold(name, HeaderContentLength) {
		return m
	}
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
	return m
}

// WithBody sets the body and returns the message for chaining.
func (m *Message) WithBody(body []byte) *Message {
	m.Body = body
	return m
}

// Get returns the value of the first header matching name case-insensitively.
func (m *Message) Get(name string) string {
	v, _ := m.Lookup(name)
	return v
}

// Lookup is like Get but also reports whether the header was present.
func (m *Message) Lookup(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ResponseFor returns the Response-For header of a response.
func (m *Message) ResponseFor() string {
	return m.Get(HeaderResponseFor)
}

// IsResponse reports whether Verb is one of the response status tokens.
func (m *Message) IsResponse() bool {
	switch m.Verb {
	case StatusOK, StatusError, StatusMessage:
		return true
	}
	return false
}

// Encode serializes the message to wire bytes.
//
// Header order is: every header in insertion order except Content-Length,
// then Content-Length equal to len(Body). For responses built with
// NewResponse this yields Response-For, then User (MESSAGE only), then Error
// (ERROR only), then Content-Length.
func (m *Message) Encode() []byte {
	var buf bytes.Buffer
	m.writeTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the encoded message to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	m.writeTo(&buf)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (m *Message) writeTo(buf *bytes.Buffer) {
	sep := ":"
	if m.IsResponse() {
		sep = ": "
	}

	version := m.Version
	if version == "" {
		version = Version
	}

	buf.WriteString(version)
	buf.WriteByte(' ')
	buf.WriteString(m.Verb)
	buf.WriteString(crlf)

	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, HeaderContentLength) {
			continue
		}
		buf.WriteString(h.Name)
		buf.WriteString(sep)
		buf.WriteString(h.Value)
		buf.WriteString(crlf)
	}

	buf.WriteString(HeaderContentLength)
	buf.WriteString(sep)
	buf.WriteString(strconv.Itoa(len(m.Body)))
	buf.WriteString(crlf)
	buf.WriteString(crlf)
	buf.Write(m.Body)
}
