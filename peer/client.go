package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/filepeer/limits"
	"github.com/opd-ai/filepeer/transport"
	"github.com/sirupsen/logrus"
)

// ClientOptions contains client configuration.
type ClientOptions struct {
	// Host is the listener's hostname; every address it resolves to is tried.
	Host  string
	Ports transport.PortRange
	// AttemptTimeout bounds each connect attempt of the port scan.
	AttemptTimeout time.Duration
	// IOTimeout fails an exchange whose reads or writes stall; 0 disables it.
	IOTimeout time.Duration
	// Proxy is an optional socks5:// or http:// proxy URL.
	Proxy      string
	BufferSize int
}

// NewClientOptions creates default client options.
func NewClientOptions() *ClientOptions {
	return &ClientOptions{
		Host:           "localhost",
		Ports:          transport.DefaultPortRange(),
		AttemptTimeout: transport.DefaultAttemptTimeout,
		IOTimeout:      DefaultIdleTimeout,
		BufferSize:     limits.DefaultBufferSize,
	}
}

// Client is the initiating peer. Every request opens a fresh connection
// found by scanning the port range, performs one exchange and closes it.
// A Client is safe for concurrent use.
type Client struct {
	options ClientOptions
	dialer  *transport.Dialer
}

// NewClient creates a client.
func NewClient(options *ClientOptions) (*Client, error) {
	if options == nil {
		options = NewClientOptions()
	}
	if options.IOTimeout < 0 {
		return nil, fmt.Errorf("I/O timeout cannot be negative: %v", options.IOTimeout)
	}
	if options.BufferSize == 0 {
		options.BufferSize = limits.DefaultBufferSize
	}
	if err := limits.ValidateBufferSize(options.BufferSize); err != nil {
		return nil, err
	}

	dialer, err := transport.NewDialer(transport.DialerConfig{
		Host:           options.Host,
		Ports:          options.Ports,
		AttemptTimeout: options.AttemptTimeout,
		Proxy:          options.Proxy,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		options: *options,
		dialer:  dialer,
	}, nil
}

// Store uploads the contents of r as name. name may contain relative
// subdirectories. It returns the number of payload bytes sent.
func (c *Client) Store(ctx context.Context, name string, r io.Reader) (int64, error) {
	cmd := transport.NewStoreCommand(name)
	var sent int64

	err := c.exchange(ctx, cmd, func(conn net.Conn, br *bufio.Reader) error {
		buf := make([]byte, c.options.BufferSize)
		n, err := io.CopyBuffer(conn, r, buf)
		sent = n
		if err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
		// End of stream marks the end of the payload.
		if err := transport.CloseWrite(conn); err != nil {
			return err
		}
		return readStatus(br)
	})
	return sent, err
}

// StoreFile uploads the local file at localPath as name, or under its base
// name when name is empty. progress, if non-nil, receives a copy of every
// byte sent.
func (c *Client) StoreFile(ctx context.Context, localPath, name string, progress io.Writer) (int64, error) {
	if name == "" {
		name = filepath.Base(localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", localPath)
	}

	var r io.Reader = f
	if progress != nil {
		notifySize(progress, info.Size())
		r = io.TeeReader(f, progress)
	}
	return c.Store(ctx, name, r)
}

// Retrieve downloads name from the server and writes exactly its announced
// size to w. A name with a path separator is taken relative to the server
// root; a bare name matches the first file of that name anywhere under it.
// If w has a ChangeMax64 method, as a progress bar does, it is told the
// size first.
func (c *Client) Retrieve(ctx context.Context, name string, w io.Writer) (int64, error) {
	return c.retrieve(ctx, name, w, func(size int64) { notifySize(w, size) })
}

// RetrieveFile downloads name into destPath. A destPath naming an existing
// directory receives the file under name's base name. The bytes land in a
// temporary file that replaces destPath only after the whole file arrived.
func (c *Client) RetrieveFile(ctx context.Context, name, destPath string, progress io.Writer) (int64, error) {
	if info, err := os.Stat(destPath); err == nil && info.IsDir() {
		destPath = filepath.Join(destPath, filepath.Base(name))
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	var w io.Writer = tmp
	if progress != nil {
		w = io.MultiWriter(tmp, progress)
	}

	n, err := c.retrieve(ctx, name, w, func(size int64) {
		if progress != nil {
			notifySize(progress, size)
		}
	})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpPath, destPath)
	}
	if err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logrus.WithFields(logrus.Fields{
				"function": "Client.RetrieveFile",
				"temp":     tmpPath,
				"error":    rmErr.Error(),
			}).Warn("Failed to remove partial download")
		}
		return n, err
	}
	return n, nil
}

// Relocate moves the file at sourcePath into targetDir on the server. Both
// paths must lie inside the server root; relative paths are resolved
// against it.
func (c *Client) Relocate(ctx context.Context, sourcePath, targetDir string) error {
	return c.exchange(ctx, transport.NewRelocateCommand(sourcePath, targetDir), func(_ net.Conn, br *bufio.Reader) error {
		return readStatus(br)
	})
}

// Remove deletes name from the server, looked up the same way as Retrieve.
func (c *Client) Remove(ctx context.Context, name string) error {
	return c.exchange(ctx, transport.NewRemoveCommand(name), func(_ net.Conn, br *bufio.Reader) error {
		return readStatus(br)
	})
}

// Go runs fn on its own goroutine and passes its result to done, which may
// be nil. Callers such as a user interface use it so no request blocks them.
func (c *Client) Go(ctx context.Context, fn func(context.Context, *Client) error, done func(error)) {
	go func() {
		err := fn(ctx, c)
		if done != nil {
			done(err)
		}
	}()
}

func (c *Client) retrieve(ctx context.Context, name string, w io.Writer, onSize func(int64)) (int64, error) {
	cmd := transport.NewRetrieveCommand(name)
	var received int64

	err := c.exchange(ctx, cmd, func(_ net.Conn, br *bufio.Reader) error {
		if err := readStatus(br); err != nil {
			return err
		}
		size, err := transport.ReadSize(br)
		if err != nil {
			return fmt.Errorf("read size: %w", err)
		}
		onSize(size)

		n, err := io.CopyN(w, br, size)
		received = n
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("received %d of %d bytes: %w", n, size, err)
		}
		return nil
	})
	return received, err
}

// exchange connects, sends cmd and hands the connection to fn. The scan is
// the only retry: once connected, a failure is reported as is.
func (c *Client) exchange(ctx context.Context, cmd transport.Command, fn func(conn net.Conn, br *bufio.Reader) error) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	requestID := uuid.NewString()
	logger := logrus.WithFields(logrus.Fields{
		"function":   "Client.exchange",
		"request_id": requestID,
		"command":    cmd.String(),
	})
	start := time.Now()

	raw, err := c.dialer.Dial(ctx)
	if err != nil {
		logger.WithField("error", err.Error()).Error("No listener reachable")
		return fmt.Errorf("%s: %w", cmd, err)
	}
	defer raw.Close()

	if cmd.Type == transport.CommandStore {
		if _, ok := raw.(interface{ CloseWrite() error }); !ok {
			return fmt.Errorf("%s: %w", cmd, transport.ErrHalfCloseUnsupported)
		}
	}

	logger = logger.WithField("remote", raw.RemoteAddr().String())
	conn := transport.WithIdleTimeout(raw, c.options.IOTimeout)

	if err := transport.WriteCommand(conn, cmd); err != nil {
		logger.WithField("error", err.Error()).Error("Failed to send command")
		return fmt.Errorf("%s: send command: %w", cmd, err)
	}

	br := bufio.NewReaderSize(conn, c.options.BufferSize)
	if err := fn(conn, br); err != nil {
		logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"duration": time.Since(start),
		}).Warn("Request failed")
		return fmt.Errorf("%s: %w", cmd, err)
	}

	logger.WithField("duration", time.Since(start)).Info("Request completed")
	return nil
}

// readStatus reads the response status and converts a failure status into
// its sentinel error.
func readStatus(br *bufio.Reader) error {
	status, err := transport.ReadStatus(br)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return status.Err()
}

// notifySize passes the transfer size to writers that track a maximum,
// such as a progress bar.
func notifySize(w io.Writer, size int64) {
	if s, ok := w.(interface{ ChangeMax64(int64) }); ok {
		s.ChangeMax64(size)
	}
}
