package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const fingerprintExtension = "pubkey-fp"

// listenSSH binds the SSH listener. Every client key passes the handshake;
// the chat identity is whatever the session later sends in AUTH.
func (s *Server) listenSSH() error {
	signer, err := s.hostKey()
	if err != nil {
		return fmt.Errorf("ssh host key: %w", err)
	}

	config := &ssh.ServerConfig{
		ServerVersion: "SSH-2.0-TCPChat",
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{
				Extensions: map[string]string{fingerprintExtension: ssh.FingerprintSHA256(key)},
			}, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", s.config.SSHAddr)
	if err != nil {
		return fmt.Errorf("ssh listen %s: %w", s.config.SSHAddr, err)
	}

	s.sshListener = listener
	s.sshConfig = config
	log.Printf("SSH listening on %s", listener.Addr())
	return nil
}

// serveSSH runs the handshake, then treats each "session" channel as one
// CHAT/1.0 byte stream. Other channel types are refused.
func (s *Server) serveSSH(conn net.Conn) {
	defer conn.Close()

	sconn, channels, global, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		debugLog.Printf("SSH handshake with %s: %v", conn.RemoteAddr(), err)
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(global)

	fingerprint := ""
	if sconn.Permissions != nil {
		fingerprint = sconn.Permissions.Extensions[fingerprintExtension]
	}

	for nc := range channels {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "only session channels are served")
			continue
		}
		channel, requests, err := nc.Accept()
		if err != nil {
			debugLog.Printf("SSH channel from %s: %v", sconn.RemoteAddr(), err)
			continue
		}
		go replySessionRequests(requests)
		go s.serveSSHChannel(channel, sconn.RemoteAddr().String(), fingerprint)
	}
}

// replySessionRequests acknowledges what terminal clients ask for before
// they start talking; the channel itself is the chat stream.
func replySessionRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		ok := false
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			ok = true
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

func (s *Server) serveSSHChannel(channel ssh.Channel, remoteAddr, fingerprint string) {
	sc := NewSafeConn(channel)
	c := s.engine.NewConnection(TransportSSH, remoteAddr, sc)
	if !s.engine.Open(c) {
		sc.Close()
		return
	}
	debugLog.Printf("Connection %s: client key %s", c, fingerprint)

	s.engine.serveStream(c, sc)
}

// hostKey reads the configured host key, creating an ed25519 key in OpenSSH
// format the first time the server starts.
func (s *Server) hostKey() (ssh.Signer, error) {
	if strings.TrimSpace(s.config.SSHHostKeyPath) == "" {
		return nil, errors.New("[server] ssh_host_key is empty")
	}
	path, err := expandHome(s.config.SSHHostKeyPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return signer, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	block, err := ssh.MarshalPrivateKey(key, "tcpchat host key")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, err
	}
	log.Printf("Created SSH host key %s", path)

	return ssh.NewSignerFromKey(key)
}
