package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// ListenerState is the lifecycle state of a Listener.
type ListenerState int32

const (
	// StateIdle is the state before Start.
	StateIdle ListenerState = iota
	// StateScanning is the state while ports of the range are tried.
	StateScanning
	// StateBound is the state once a port is bound, before the accept loop runs.
	StateBound
	// StateAccepting is the state while the accept loop runs.
	StateAccepting
	// StateFailed is the terminal state after bind exhaustion.
	StateFailed
	// StateStopped is the terminal state after Stop.
	StateStopped
)

func (s ListenerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateBound:
		return "bound"
	case StateAccepting:
		return "accepting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ListenerState(%d)", int32(s))
	}
}

// Handler serves one accepted connection. The listener closes the
// connection after ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn net.Conn)

// ServeConn implements Handler.
func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Host is the interface address to bind; empty binds all interfaces.
	Host string
	// Ports is the range scanned for a free port.
	Ports PortRange
	// MaxConnections bounds concurrently served connections; 0 is unbounded.
	MaxConnections int
	// ShutdownTimeout bounds how long Stop waits for in-flight handlers
	// before closing their connections; 0 waits indefinitely.
	ShutdownTimeout time.Duration
}

// DefaultListenerConfig binds all interfaces on the default port range.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Host:  "",
		Ports: DefaultPortRange(),
	}
}

// Validate checks the configuration.
func (c ListenerConfig) Validate() error {
	if err := c.Ports.Validate(); err != nil {
		return err
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative: %d", c.MaxConnections)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout cannot be negative: %v", c.ShutdownTimeout)
	}
	return nil
}

// maxAcceptBackoff caps the pause after consecutive accept failures.
const maxAcceptBackoff = time.Second

// Listener binds the first free port of a range and serves every accepted
// connection on its own goroutine.
type Listener struct {
	config  ListenerConfig
	handler Handler
	state   atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	port     uint16
	cancel   context.CancelFunc
	loopDone chan struct{}
	conns    sync.WaitGroup

	activeMu sync.Mutex
	active   map[net.Conn]struct{}
}

// NewListener creates an idle listener. Nothing is bound until Start.
func NewListener(config ListenerConfig, handler Handler) (*Listener, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Listener{
		config:  config,
		handler: handler,
		active:  make(map[net.Conn]struct{}),
	}, nil
}

// Start scans the port range, binds the first free port and launches the
// accept loop. ctx bounds the scan only; once bound, the listener runs until
// Stop. When no port can be bound the listener ends in StateFailed and Start
// returns an error wrapping ErrNoPortAvailable.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateIdle {
		return ErrListenerStarted
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listener.Start",
		"host":     l.config.Host,
		"ports":    l.config.Ports.String(),
	}).Info("Scanning port range")

	l.setState(StateScanning)
	ln, port, err := l.bind(ctx)
	if err != nil {
		l.setState(StateFailed)
		logrus.WithFields(logrus.Fields{
			"function": "Listener.Start",
			"ports":    l.config.Ports.String(),
			"error":    err.Error(),
		}).Error("Unable to start listener")
		return err
	}

	l.port = port
	l.setState(StateBound)

	if l.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, l.config.MaxConnections)
	}
	l.listener = ln

	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.loopDone = make(chan struct{})

	l.setState(StateAccepting)
	go l.acceptConnections(loopCtx, ln)

	logrus.WithFields(logrus.Fields{
		"function":        "Listener.Start",
		"addr":            ln.Addr().String(),
		"port":            port,
		"max_connections": l.config.MaxConnections,
	}).Info("Listener accepting connections")

	return nil
}

// bind tries every port of the range in ascending order.
func (l *Listener) bind(ctx context.Context) (net.Listener, uint16, error) {
	var lc net.ListenConfig

	for _, port := range l.config.Ports.Ports() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		addr := net.JoinHostPort(l.config.Host, strconv.Itoa(int(port)))
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Listener.bind",
				"addr":     addr,
				"error":    err.Error(),
			}).Debug("Port is busy")
			continue
		}

		return ln, port, nil
	}

	return nil, 0, newOpError("listen", l.config.Ports.String(), ErrNoPortAvailable)
}

// Stop closes the listening socket and waits for the accept loop and every
// in-flight connection handler to return. Stopping an idle or failed
// listener only moves it to StateStopped.
func (l *Listener) Stop() error {
	l.mu.Lock()
	state := l.State()
	if state == StateStopped {
		l.mu.Unlock()
		return nil
	}
	l.setState(StateStopped)
	if state != StateAccepting {
		l.mu.Unlock()
		return nil
	}

	l.cancel()
	err := l.listener.Close()
	done := l.loopDone
	l.mu.Unlock()

	<-done
	l.waitForHandlers()

	logrus.WithFields(logrus.Fields{
		"function": "Listener.Stop",
		"port":     l.port,
	}).Info("Listener stopped")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// waitForHandlers waits for in-flight handlers. Once ShutdownTimeout
// elapses the remaining connections are closed so their handlers fail and
// return.
func (l *Listener) waitForHandlers() {
	finished := make(chan struct{})
	go func() {
		l.conns.Wait()
		close(finished)
	}()

	if l.config.ShutdownTimeout <= 0 {
		<-finished
		return
	}

	select {
	case <-finished:
		return
	case <-time.After(l.config.ShutdownTimeout):
	}

	l.activeMu.Lock()
	remaining := len(l.active)
	for conn := range l.active {
		conn.Close()
	}
	l.activeMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Listener.waitForHandlers",
		"connections": remaining,
		"timeout":     l.config.ShutdownTimeout,
	}).Warn("Shutdown timeout elapsed, closing connections")

	<-finished
}

// State returns the current lifecycle state.
func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

func (l *Listener) setState(s ListenerState) {
	l.state.Store(int32(s))
}

// Port returns the bound port, or 0 when nothing is bound.
func (l *Listener) Port() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Addr returns the bound address, or nil when nothing is bound.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// acceptConnections accepts until the listener is stopped. A failed Accept
// is logged and retried after a capped backoff.
func (l *Listener) acceptConnections(ctx context.Context, ln net.Listener) {
	defer close(l.loopDone)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			backoff = nextBackoff(backoff)
			logrus.WithFields(logrus.Fields{
				"function": "Listener.acceptConnections",
				"error":    err.Error(),
				"retry_in": backoff,
			}).Warn("Accept failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		backoff = 0
		l.conns.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

// handleConnection runs the handler for one connection and always closes it.
func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	l.activeMu.Lock()
	l.active[conn] = struct{}{}
	l.activeMu.Unlock()

	defer l.conns.Done()
	defer func() {
		l.activeMu.Lock()
		delete(l.active, conn)
		l.activeMu.Unlock()
	}()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Listener.handleConnection",
				"remote":   conn.RemoteAddr().String(),
				"panic":    r,
			}).Error("Connection handler panicked")
		}
	}()

	l.handler.ServeConn(ctx, conn)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
