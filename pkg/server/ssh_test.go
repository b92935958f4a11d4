package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostKeyCreatedThenReused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "ssh_host_key")
	s := &Server{config: ServerConfig{SSHHostKeyPath: path}}

	first, err := s.hostKey()
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", first.PublicKey().Type())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := s.hostKey()
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestHostKeyErrors(t *testing.T) {
	s := &Server{config: ServerConfig{SSHHostKeyPath: "  "}}
	_, err := s.hostKey()
	assert.ErrorContains(t, err, "ssh_host_key is empty")

	garbage := filepath.Join(t.TempDir(), "ssh_host_key")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	s = &Server{config: ServerConfig{SSHHostKeyPath: garbage}}
	_, err = s.hostKey()
	assert.ErrorContains(t, err, "parse "+garbage)
}
