package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/filepeer/limits"
)

// Status is the one-byte outcome the listener writes back for every command.
type Status uint8

const (
	// StatusOK reports success. For DOWNLOAD the size and bytes follow.
	StatusOK Status = iota
	// StatusNotFound reports a missing file or path.
	StatusNotFound
	// StatusForbidden reports a path outside the server root.
	StatusForbidden
	// StatusBadRequest reports an undecodable or invalid request.
	StatusBadRequest
	// StatusIOError reports a filesystem or stream failure.
	StatusIOError
	// StatusNoSpace reports that the server refused a store for lack of space.
	StatusNoSpace
)

var statusNames = map[Status]string{
	StatusOK:         "ok",
	StatusNotFound:   "not found",
	StatusForbidden:  "forbidden",
	StatusBadRequest: "bad request",
	StatusIOError:    "i/o error",
	StatusNoSpace:    "no space",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Err returns the sentinel error matching s, or nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusForbidden:
		return ErrForbidden
	case StatusBadRequest:
		return ErrBadRequest
	case StatusIOError:
		return ErrRemoteIO
	case StatusNoSpace:
		return ErrNoSpace
	default:
		return fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
}

// StatusOf classifies an execution error into the status sent on the wire.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrForbidden):
		return StatusForbidden
	case errors.Is(err, ErrNoSpace):
		return StatusNoSpace
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrMalformedCommand),
		errors.Is(err, limits.ErrArgumentEmpty),
		errors.Is(err, limits.ErrArgumentTooLong),
		errors.Is(err, limits.ErrArgumentEncoding),
		errors.Is(err, limits.ErrNameTooLong):
		return StatusBadRequest
	default:
		return StatusIOError
	}
}

// WriteStatus writes the status byte.
func WriteStatus(w io.Writer, s Status) error {
	_, err := w.Write([]byte{byte(s)})
	return err
}

// ReadStatus reads the status byte. A stream that ends before the byte
// arrives yields io.ErrUnexpectedEOF.
func ReadStatus(r io.Reader) (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	s := Status(b[0])
	if _, ok := statusNames[s]; !ok {
		return s, fmt.Errorf("%w: %d", ErrUnknownStatus, b[0])
	}
	return s, nil
}

// WriteSize writes the 8-byte signed big-endian DOWNLOAD size.
func WriteSize(w io.Writer, size int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(size))
	_, err := w.Write(b[:])
	return err
}

// ReadSize reads the DOWNLOAD size; negative sizes are malformed.
func ReadSize(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	size := int64(binary.BigEndian.Uint64(b[:]))
	if size < 0 {
		return 0, fmt.Errorf("%w: negative size %d", ErrMalformedCommand, size)
	}
	return size, nil
}
