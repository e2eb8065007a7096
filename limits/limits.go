package limits

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// MaxArgumentLength is the largest encoded string the 16-bit length
	// prefix can describe.
	MaxArgumentLength = math.MaxUint16

	// MaxNameLength is the largest single path component accepted for a file name.
	MaxNameLength = 255

	// DefaultBufferSize is the streaming copy buffer size in bytes.
	DefaultBufferSize = 4096

	// MinBufferSize is the smallest buffer the streaming code will accept.
	MinBufferSize = 512

	// MaxBufferSize bounds configurable buffers (1MB) to avoid memory abuse.
	MaxBufferSize = 1024 * 1024
)

var (
	// ErrArgumentEmpty indicates an empty command argument was provided
	ErrArgumentEmpty = errors.New("empty argument")

	// ErrArgumentTooLong indicates an argument exceeds the wire limit
	ErrArgumentTooLong = errors.New("argument too long")

	// ErrArgumentEncoding indicates an argument is not valid UTF-8
	ErrArgumentEncoding = errors.New("argument is not valid UTF-8")

	// ErrNameTooLong indicates a path component exceeds MaxNameLength
	ErrNameTooLong = errors.New("file name too long")

	// ErrBufferSize indicates a configured buffer size is out of range
	ErrBufferSize = errors.New("buffer size out of range")
)

// ValidateArgument checks that s can be framed as a protocol string.
func ValidateArgument(s string) error {
	if len(s) == 0 {
		return ErrArgumentEmpty
	}
	if len(s) > MaxArgumentLength {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrArgumentTooLong, len(s), MaxArgumentLength)
	}
	if !utf8.ValidString(s) {
		return ErrArgumentEncoding
	}
	return nil
}

// ValidateName checks a file name argument: it must be a valid argument and
// none of its path components may exceed MaxNameLength.
func ValidateName(name string) error {
	if err := ValidateArgument(name); err != nil {
		return err
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if len(part) > MaxNameLength {
			return fmt.Errorf("%w: component size %d exceeds limit %d", ErrNameTooLong, len(part), MaxNameLength)
		}
	}
	return nil
}

// ValidateBufferSize checks a configured streaming buffer size.
func ValidateBufferSize(size int) error {
	if size < MinBufferSize || size > MaxBufferSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrBufferSize, size, MinBufferSize, MaxBufferSize)
	}
	return nil
}
