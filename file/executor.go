package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opd-ai/filepeer/limits"
	"github.com/opd-ai/filepeer/transport"
	"github.com/sirupsen/logrus"
)

// ChangeNotifier is told that the server directory changed. Calls arrive on
// their own goroutines, possibly concurrently and redundantly, so
// implementations must be idempotent.
type ChangeNotifier interface {
	NotifyChanged()
}

// NotifierFunc adapts a function to the ChangeNotifier interface.
type NotifierFunc func()

// NotifyChanged implements ChangeNotifier.
func (f NotifierFunc) NotifyChanged() {
	f()
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// BufferSize is the streaming copy buffer; 0 selects limits.DefaultBufferSize.
	BufferSize int
	// MinFreeBytes refuses stores when the root filesystem has less space
	// available; 0 disables the check.
	MinFreeBytes uint64
}

// Outcome reports what executing one command did.
type Outcome struct {
	Command transport.Command
	Status  transport.Status
	// Path is the resolved file path, when resolution got that far.
	Path string
	// Bytes counts payload bytes stored or sent.
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Success reports whether the command succeeded.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Executor performs the filesystem effect of decoded commands against a
// Root and writes the response. One Executor serves every connection; it
// holds no per-command state.
type Executor struct {
	root         *Root
	notifier     ChangeNotifier
	bufferSize   int
	minFreeBytes uint64
	buffers      sync.Pool
}

// NewExecutor creates an executor for root. notifier may be nil.
func NewExecutor(root *Root, notifier ChangeNotifier, opts ExecutorOptions) (*Executor, error) {
	if root == nil {
		return nil, errors.New("root cannot be nil")
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = limits.DefaultBufferSize
	}
	if err := limits.ValidateBufferSize(opts.BufferSize); err != nil {
		return nil, err
	}

	e := &Executor{
		root:         root,
		notifier:     notifier,
		bufferSize:   opts.BufferSize,
		minFreeBytes: opts.MinFreeBytes,
	}
	e.buffers.New = func() any {
		b := make([]byte, e.bufferSize)
		return &b
	}
	return e, nil
}

// Root returns the executor's server root.
func (e *Executor) Root() *Root {
	return e.root
}

// BufferSize returns the streaming buffer size.
func (e *Executor) BufferSize() int {
	return e.bufferSize
}

// Execute runs cmd. For a store, body supplies the payload up to end of
// stream. The status byte (and for a successful retrieve the size and file
// bytes) is written to resp. Failures are reported in the outcome and never
// panic or affect other connections. A successful mutating command triggers
// an asynchronous change notification.
func (e *Executor) Execute(cmd transport.Command, body io.Reader, resp io.Writer) Outcome {
	start := time.Now()
	outcome := Outcome{Command: cmd}

	var responded bool
	switch cmd.Type {
	case transport.CommandStore:
		outcome.Path, outcome.Bytes, outcome.Err = e.store(cmd.Name, body)
	case transport.CommandRetrieve:
		outcome.Path, outcome.Bytes, responded, outcome.Err = e.retrieve(cmd.Name, resp)
	case transport.CommandRelocate:
		outcome.Path, outcome.Err = e.relocate(cmd.Name, cmd.TargetDir)
	case transport.CommandRemove:
		outcome.Path, outcome.Err = e.remove(cmd.Name)
	default:
		outcome.Err = fmt.Errorf("%w: %s", transport.ErrUnknownCommand, cmd.Type)
	}
	outcome.Status = transport.StatusOf(outcome.Err)

	if !responded {
		if err := transport.WriteStatus(resp, outcome.Status); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Executor.Execute",
				"command":  cmd.Type.String(),
				"status":   outcome.Status.String(),
				"error":    err.Error(),
			}).Warn("Failed to write response status")
		}
	}

	if outcome.Success() && cmd.Mutating() {
		e.notifyChanged()
	}

	outcome.Duration = time.Since(start)
	return outcome
}

// store streams body into name beneath the root. The payload lands in a
// temporary file that replaces the target only once the stream ended
// cleanly; a failed transfer leaves no partial file behind.
func (e *Executor) store(name string, body io.Reader) (string, int64, error) {
	target, err := e.root.Resolve(name)
	if err == nil {
		err = checkCapacity(e.root.Path(), e.minFreeBytes)
	}
	if err != nil {
		// Consume the payload so the initiator can read the refusal.
		e.drain(body)
		return target, 0, fmt.Errorf("store %q: %w", name, err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.drain(body)
		return target, 0, fmt.Errorf("store %q: %w", name, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.part")
	if err != nil {
		e.drain(body)
		return target, 0, fmt.Errorf("store %q: %w", name, err)
	}
	tmpPath := tmp.Name()

	logrus.WithFields(logrus.Fields{
		"function": "Executor.store",
		"name":     name,
		"target":   target,
	}).Debug("Receiving file")

	buf := e.getBuffer()
	n, copyErr := io.CopyBuffer(tmp, body, *buf)
	e.putBuffer(buf)

	if copyErr == nil {
		copyErr = tmp.Chmod(0o644)
	}
	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = os.Rename(tmpPath, target)
	}
	if copyErr != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logrus.WithFields(logrus.Fields{
				"function": "Executor.store",
				"temp":     tmpPath,
				"error":    rmErr.Error(),
			}).Warn("Failed to remove partial file")
		}
		return target, n, fmt.Errorf("store %q: %w", name, copyErr)
	}

	return target, n, nil
}

// retrieve looks name up beneath the root and writes StatusOK, the size and
// the file bytes to resp. responded reports whether anything was written.
func (e *Executor) retrieve(name string, resp io.Writer) (path string, n int64, responded bool, err error) {
	_, path, err = e.root.Lookup(name)
	if err != nil {
		return "", 0, false, fmt.Errorf("retrieve %q: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = transport.ErrNotFound
		}
		return path, 0, false, fmt.Errorf("retrieve %q: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return path, 0, false, fmt.Errorf("retrieve %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return path, 0, false, fmt.Errorf("retrieve %q: not a regular file: %w", name, transport.ErrNotFound)
	}
	size := info.Size()

	w := bufio.NewWriterSize(resp, e.bufferSize)
	if err := transport.WriteStatus(w, transport.StatusOK); err != nil {
		return path, 0, true, fmt.Errorf("retrieve %q: %w", name, err)
	}
	if err := transport.WriteSize(w, size); err != nil {
		return path, 0, true, fmt.Errorf("retrieve %q: %w", name, err)
	}

	// Exactly the announced size goes out even if the file grows meanwhile.
	buf := e.getBuffer()
	n, err = io.CopyBuffer(w, io.LimitReader(f, size), *buf)
	e.putBuffer(buf)
	if err == nil {
		err = w.Flush()
	}
	if err == nil && n < size {
		err = fmt.Errorf("file shrank during transfer: sent %d of %d bytes: %w", n, size, io.ErrUnexpectedEOF)
	}
	if err != nil {
		return path, n, true, fmt.Errorf("retrieve %q: %w", name, err)
	}

	return path, n, true, nil
}

// relocate moves the file at sourcePath into targetDir under its base name,
// replacing any file of that name there. Both paths must lie beneath the
// root. A symlink source is moved as a link.
func (e *Executor) relocate(sourcePath, targetDir string) (string, error) {
	src, err := e.root.ConfineEntry(sourcePath)
	if err != nil {
		return "", fmt.Errorf("move %q: %w", sourcePath, err)
	}
	dir, err := e.root.Confine(targetDir)
	if err != nil {
		return src, fmt.Errorf("move %q: target %q: %w", sourcePath, targetDir, err)
	}

	info, err := os.Lstat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = transport.ErrNotFound
		}
		return src, fmt.Errorf("move %q: %w", sourcePath, err)
	}
	if info.IsDir() {
		return src, fmt.Errorf("move %q: is a directory: %w", sourcePath, transport.ErrBadRequest)
	}

	dirInfo, err := os.Stat(dir)
	if err != nil || !dirInfo.IsDir() {
		return src, fmt.Errorf("move %q: target directory %q: %w", sourcePath, targetDir, transport.ErrNotFound)
	}

	dst := filepath.Join(dir, filepath.Base(src))
	if dst == src {
		return dst, nil
	}

	if err := os.Rename(src, dst); err != nil {
		// Rename cannot cross filesystems; fall back to copy and delete.
		if copyErr := e.copyEntry(src, dst, info); copyErr != nil {
			return src, fmt.Errorf("move %q: %w", sourcePath, err)
		}
		if rmErr := os.Remove(src); rmErr != nil {
			return dst, fmt.Errorf("move %q: remove source after copy: %w", sourcePath, rmErr)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Executor.relocate",
		"source":   src,
		"target":   dst,
	}).Debug("File moved")

	return dst, nil
}

// remove deletes the file name refers to beneath the root. A symlink is
// removed as a link.
func (e *Executor) remove(name string) (string, error) {
	path, _, err := e.root.Lookup(name)
	if err != nil {
		return "", fmt.Errorf("delete %q: %w", name, err)
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = transport.ErrNotFound
		}
		return path, fmt.Errorf("delete %q: %w", name, err)
	}
	return path, nil
}

// copyEntry recreates src at dst, copying symlinks as links.
func (e *Executor) copyEntry(src, dst string, info fs.FileInfo) error {
	if info.Mode()&fs.ModeSymlink == 0 {
		return e.copyFile(src, dst, info.Mode().Perm())
	}
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Symlink(link, dst)
}

// copyFile copies src to dst through a temporary file in dst's directory.
func (e *Executor) copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}

	buf := e.getBuffer()
	_, err = io.CopyBuffer(tmp, in, *buf)
	e.putBuffer(buf)

	if err == nil {
		err = tmp.Chmod(perm)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
	}
	return err
}

// drain discards what is left of a store payload.
func (e *Executor) drain(body io.Reader) {
	buf := e.getBuffer()
	io.CopyBuffer(io.Discard, body, *buf)
	e.putBuffer(buf)
}

// notifyChanged fires the change notification without waiting for it.
func (e *Executor) notifyChanged() {
	if e.notifier == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Executor.notifyChanged",
					"panic":    r,
				}).Error("Change notifier panicked")
			}
		}()
		e.notifier.NotifyChanged()
	}()
}

func (e *Executor) getBuffer() *[]byte {
	return e.buffers.Get().(*[]byte)
}

func (e *Executor) putBuffer(b *[]byte) {
	e.buffers.Put(b)
}
