package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging sends debug logging to w. Call it before Run.
func EnableDebugLogging(w io.Writer) {
	debugLog = log.New(w, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Server owns the listeners and the protocol engine they feed
type Server struct {
	config    ServerConfig
	engine    *Engine
	metrics   *Metrics
	startTime time.Time // Server start time for uptime calculation

	listener        net.Listener
	sshListener     net.Listener
	sshConfig       *ssh.ServerConfig
	httpListener    net.Listener
	httpServer      *http.Server
	metricsListener net.Listener
	metricsServer   *http.Server
	listening       bool
}

// ServerConfig holds server configuration. An empty address disables that
// listener.
type ServerConfig struct {
	TCPAddr        string
	HTTPAddr       string // WebSocket endpoint /ws
	SSHAddr        string
	MetricsAddr    string // /metrics and /health, internal only
	SSHHostKeyPath string

	AuthToken       string
	AuthTokenHash   string // bcrypt, takes precedence over AuthToken
	UniqueUsernames bool

	Limits Limits
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPAddr:        ":1337",
		MetricsAddr:    ":9090",
		SSHHostKeyPath: "~/.tcpchat/ssh_host_key",
		AuthToken:      DefaultToken,
		Limits: Limits{
			MaxHeaderBytes: 8192,
			MaxBodyBytes:   65536,
			OutboundQueue:  DefaultOutboundQueue,
		},
	}
}

// NewServer creates a new server instance
func NewServer(config ServerConfig) (*Server, error) {
	metrics := NewMetrics()
	engine, err := NewEngine(config, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &Server{
		config:    config,
		engine:    engine,
		metrics:   metrics,
		startTime: time.Now(),
	}, nil
}

// Listen binds every configured listener. Run calls it when it has not been
// called yet; calling it first lets the caller learn ephemeral ports.
func (s *Server) Listen() error {
	if s.listening {
		return nil
	}

	if err := s.listen(); err != nil {
		s.closeListeners()
		return err
	}
	s.listening = true
	return nil
}

func (s *Server) listen() error {
	if s.config.TCPAddr != "" {
		listener, err := net.Listen("tcp", s.config.TCPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.TCPAddr, err)
		}
		s.listener = listener
		log.Printf("TCP server listening on %s", listener.Addr())
	}

	if s.config.SSHAddr != "" {
		if err := s.listenSSH(); err != nil {
			return fmt.Errorf("failed to start SSH server: %w", err)
		}
	}

	if s.config.HTTPAddr != "" {
		listener, err := net.Listen("tcp", s.config.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddr, err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.HandleWebSocket)
		s.httpListener = listener
		s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		log.Printf("WebSocket server listening on %s (/ws)", listener.Addr())
	}

	if s.config.MetricsAddr != "" {
		listener, err := net.Listen("tcp", s.config.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.HandleFunc("/health", s.HealthHandler)
		s.metricsListener = listener
		s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", listener.Addr())
	}

	return nil
}

// Run serves until ctx is cancelled, then closes the listeners and every
// open connection.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.engine.Run(gctx)
	})

	if s.listener != nil {
		g.Go(func() error {
			return s.acceptLoop(gctx, TransportTCP, s.listener, s.handleConnection)
		})
	}
	if s.sshListener != nil {
		g.Go(func() error {
			return s.acceptLoop(gctx, TransportSSH, s.sshListener, s.serveSSH)
		})
	}
	if s.httpServer != nil {
		g.Go(func() error {
			return serveHTTP(s.httpServer, s.httpListener)
		})
	}
	if s.metricsServer != nil {
		g.Go(func() error {
			return serveHTTP(s.metricsServer, s.metricsListener)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Graceful shutdown initiated...")
		s.closeListeners()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range []*http.Server{s.httpServer, s.metricsServer} {
			if srv == nil {
				continue
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}
		return nil
	})

	err := g.Wait()
	log.Println("Graceful shutdown complete")
	return err
}

func serveHTTP(srv *http.Server, listener net.Listener) error {
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) closeListeners() {
	for _, l := range []net.Listener{s.listener, s.sshListener, s.httpListener, s.metricsListener} {
		if l != nil {
			l.Close()
		}
	}
}

// Engine returns the protocol engine
func (s *Server) Engine() *Engine {
	return s.engine
}

// Addr returns the TCP listener address, or nil when disabled
func (s *Server) Addr() net.Addr {
	return listenerAddr(s.listener)
}

// HTTPAddr returns the WebSocket listener address, or nil when disabled
func (s *Server) HTTPAddr() net.Addr {
	return listenerAddr(s.httpListener)
}

// SSHAddr returns the SSH listener address, or nil when disabled
func (s *Server) SSHAddr() net.Addr {
	return listenerAddr(s.sshListener)
}

// MetricsAddr returns the metrics listener address, or nil when disabled
func (s *Server) MetricsAddr() net.Addr {
	return listenerAddr(s.metricsListener)
}

func listenerAddr(l net.Listener) net.Addr {
	if l == nil {
		return nil
	}
	return l.Addr()
}
