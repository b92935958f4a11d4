package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeResponses(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "ok response",
			msg:  NewResponse(StatusOK, VerbAuth),
			want: "CHAT/1.0 OK\r\nResponse-For: AUTH\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "error response",
			msg:  NewErrorResponse(VerbJoin, "Not authenticated"),
			want: "CHAT/1.0 ERROR\r\nResponse-For: JOIN\r\nError: Not authenticated\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "chat message",
			msg:  NewChatMessage(VerbSend, "alice", []byte("hello")),
			want: "CHAT/1.0 MESSAGE\r\nResponse-For: SEND\r\nUser: alice\r\nContent-Length: 5\r\n\r\nhello",
		},
		{
			name: "server announcement",
			msg:  NewServerMessage(VerbJoin, "alice has joined the chat."),
			want: "CHAT/1.0 MESSAGE\r\nResponse-For: JOIN\r\nUser: SERVER\r\nContent-Length: 26\r\n\r\nalice has joined the chat.",
		},
		{
			name: "content length counts bytes not runes",
			msg:  NewChatMessage(VerbSend, "bob", []byte("héllo")),
			want: "CHAT/1.0 MESSAGE\r\nResponse-For: SEND\r\nUser: bob\r\nContent-Length: 6\r\n\r\nhéllo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.msg.Encode()))
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	msg := NewRequest(VerbAuth).
		WithHeader(HeaderUser, "alice").
		WithHeader(HeaderToken, "secret123")

	assert.Equal(t, authRequest, string(msg.Encode()))
}

func TestContentLengthIsDerivedFromBody(t *testing.T) {
	msg := NewRequest(VerbSend).
		WithHeader(HeaderContentLength, "999").
		WithBody([]byte("abc"))

	assert.Equal(t, "CHAT/1.0 SEND\r\nContent-Length:3\r\n\r\nabc", string(msg.Encode()))

	// A decoded message already carries Content-Length; re-encoding must not
	// duplicate it, and a decoded request keeps the request header style
	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, "CHAT/1.0 SEND\r\nContent-Length:3\r\n\r\nabc", string(decoded.Encode()))
}

func TestDecodedMessagesReencodeIdentically(t *testing.T) {
	frames := []string{
		authRequest,
		"CHAT/1.0 SEND\r\nContent-Length:5\r\n\r\nhello",
		"CHAT/1.0 OK\r\nResponse-For: AUTH\r\nContent-Length: 0\r\n\r\n",
		"CHAT/1.0 MESSAGE\r\nResponse-For: SEND\r\nUser: bob\r\nContent-Length: 2\r\n\r\nhi",
	}
	for _, frame := range frames {
		msg, err := Decode([]byte(frame))
		require.NoError(t, err)
		assert.Equal(t, frame, string(msg.Encode()))
	}
}

func TestWriteTo(t *testing.T) {
	var buf bytes.Buffer
	msg := NewResponse(StatusOK, VerbLeave)

	n, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, msg.Encode(), buf.Bytes())
}

func TestResponseAccessors(t *testing.T) {
	msg, err := Decode(NewErrorResponse(VerbSend, "Not joined or authenticated").Encode())
	require.NoError(t, err)

	assert.True(t, msg.IsResponse())
	assert.Equal(t, StatusError, msg.Verb)
	assert.Equal(t, VerbSend, msg.ResponseFor())
	assert.Equal(t, "Not joined or authenticated", msg.Get(HeaderError))

	req, err := Decode([]byte(authRequest))
	require.NoError(t, err)
	assert.False(t, req.IsResponse())
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		verb string
		want Command
	}{
		{"AUTH", CommandAuth},
		{"JOIN", CommandJoin},
		{"SEND", CommandSend},
		{"LEAVE", CommandLeave},
		{"auth", CommandUnknown},
		{"PING", CommandUnknown},
		{"", CommandUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			got := ParseCommand(tt.verb)
			assert.Equal(t, tt.want, got)
			if got != CommandUnknown {
				assert.Equal(t, tt.verb, got.String())
			}
		})
	}
}
