package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/filepeer/file"
	"github.com/opd-ai/filepeer/limits"
	"github.com/opd-ai/filepeer/transport"
	"github.com/sirupsen/logrus"
)

// DefaultIdleTimeout bounds how long either side of an exchange may stall.
const DefaultIdleTimeout = 30 * time.Second

// DefaultShutdownTimeout bounds how long Stop waits for in-flight transfers.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultMinFreeBytes is the free space a store requires on the server root.
const DefaultMinFreeBytes = 1 << 20

// ServerOptions contains server configuration.
type ServerOptions struct {
	// RootDir is the server directory; created if absent.
	RootDir string
	// Host is the interface to bind; empty binds all interfaces.
	Host  string
	Ports transport.PortRange
	// MaxConnections bounds concurrent connections; 0 is unbounded.
	MaxConnections int
	// IdleTimeout fails a connection whose reads or writes stall; 0 disables it.
	IdleTimeout time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight transfers
	// before closing their connections; 0 waits indefinitely.
	ShutdownTimeout time.Duration
	BufferSize      int
	MinFreeBytes    uint64
	// Notifier is told when a store, move or delete changed the directory.
	Notifier file.ChangeNotifier
}

// NewServerOptions creates default server options.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		RootDir:         file.DefaultRootDir,
		Ports:           transport.DefaultPortRange(),
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BufferSize:      limits.DefaultBufferSize,
		MinFreeBytes:    DefaultMinFreeBytes,
	}
}

// Server is the listening peer. It owns the server root, a listener on the
// shared port range and the executor that serves each connection.
type Server struct {
	options  ServerOptions
	root     *file.Root
	executor *file.Executor
	listener *transport.Listener
}

// NewServer opens the server root and prepares the listener. Nothing is
// bound until Start.
func NewServer(options *ServerOptions) (*Server, error) {
	if options == nil {
		options = NewServerOptions()
	}
	if options.IdleTimeout < 0 {
		return nil, fmt.Errorf("idle timeout cannot be negative: %v", options.IdleTimeout)
	}

	root, err := file.OpenRoot(options.RootDir)
	if err != nil {
		return nil, err
	}

	executor, err := file.NewExecutor(root, options.Notifier, file.ExecutorOptions{
		BufferSize:   options.BufferSize,
		MinFreeBytes: options.MinFreeBytes,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		options:  *options,
		root:     root,
		executor: executor,
	}

	s.listener, err = transport.NewListener(transport.ListenerConfig{
		Host:            options.Host,
		Ports:           options.Ports,
		MaxConnections:  options.MaxConnections,
		ShutdownTimeout: options.ShutdownTimeout,
	}, s)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Start binds the first free port of the range and starts accepting.
func (s *Server) Start(ctx context.Context) error {
	if err := s.listener.Start(ctx); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Start",
		"root":     s.root.Path(),
		"port":     s.listener.Port(),
	}).Info("Server started")
	return nil
}

// Stop closes the listener and waits for in-flight connections to finish,
// at most ShutdownTimeout.
func (s *Server) Stop() error {
	err := s.listener.Stop()
	logrus.WithFields(logrus.Fields{
		"function": "Server.Stop",
		"port":     s.listener.Port(),
	}).Info("Server stopped")
	return err
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() uint16 {
	return s.listener.Port()
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Root returns the server root.
func (s *Server) Root() *file.Root {
	return s.root
}

// State returns the listener state.
func (s *Server) State() transport.ListenerState {
	return s.listener.State()
}

// ServeConn handles one connection: decode a single command, execute it and
// answer. The listener closes the connection afterwards.
func (s *Server) ServeConn(_ context.Context, conn net.Conn) {
	connID := uuid.NewString()
	logger := logrus.WithFields(logrus.Fields{
		"function": "Server.ServeConn",
		"conn_id":  connID,
		"remote":   conn.RemoteAddr().String(),
	})

	c := transport.WithIdleTimeout(conn, s.options.IdleTimeout)
	br := bufio.NewReaderSize(c, s.executor.BufferSize())

	// A peer that connects and leaves without a request is not an error.
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug("Connection closed without a request")
		} else {
			logger.WithField("error", err.Error()).Warn("Failed to read request")
		}
		return
	}

	cmd, err := transport.ReadCommand(br)
	if err != nil {
		status := transport.StatusOf(err)
		logger.WithFields(logrus.Fields{
			"error":  err.Error(),
			"status": status.String(),
		}).Warn("Rejected undecodable request")
		if werr := transport.WriteStatus(c, status); werr != nil {
			logger.WithField("error", werr.Error()).Debug("Failed to write rejection")
		}
		return
	}

	logger.WithField("command", cmd.String()).Debug("Request decoded")

	outcome := s.executor.Execute(cmd, br, c)

	fields := logrus.Fields{
		"command":  cmd.String(),
		"status":   outcome.Status.String(),
		"bytes":    outcome.Bytes,
		"duration": outcome.Duration,
	}
	if outcome.Path != "" {
		fields["path"] = outcome.Path
	}
	if outcome.Err != nil {
		fields["error"] = outcome.Err.Error()
		logger.WithFields(fields).Warn("Request failed")
		return
	}
	logger.WithFields(fields).Info("Request completed")
}
