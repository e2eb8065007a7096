package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/opd-ai/filepeer/limits"
)

// CommandType identifies one of the four protocol commands.
type CommandType uint8

const (
	// CommandStore uploads a payload under a file name in the server root.
	CommandStore CommandType = iota + 1
	// CommandRetrieve downloads a file found by name under the server root.
	CommandRetrieve
	// CommandRelocate moves a file by path into a target directory.
	CommandRelocate
	// CommandRemove deletes a file found by name under the server root.
	CommandRemove
)

// Wire tags, one per command type.
const (
	TagStore    = "UPLOAD"
	TagRetrieve = "DOWNLOAD"
	TagRelocate = "MOVE"
	TagRemove   = "DELETE"
)

var commandTags = map[CommandType]string{
	CommandStore:    TagStore,
	CommandRetrieve: TagRetrieve,
	CommandRelocate: TagRelocate,
	CommandRemove:   TagRemove,
}

// String returns the wire tag of the command type.
func (t CommandType) String() string {
	if tag, ok := commandTags[t]; ok {
		return tag
	}
	return fmt.Sprintf("CommandType(%d)", uint8(t))
}

// ParseCommandType maps a wire tag to its command type. Tags are case-sensitive.
func ParseCommandType(tag string) (CommandType, error) {
	for t, s := range commandTags {
		if s == tag {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, tag)
}

// Command is a decoded request. It never carries the store payload, which
// follows the command on the same stream.
type Command struct {
	Type CommandType
	// Name is the file name for store, retrieve and remove, and the source
	// path for relocate.
	Name string
	// TargetDir is the destination directory, relocate only.
	TargetDir string
}

// NewStoreCommand returns an UPLOAD command for name.
func NewStoreCommand(name string) Command {
	return Command{Type: CommandStore, Name: name}
}

// NewRetrieveCommand returns a DOWNLOAD command for name.
func NewRetrieveCommand(name string) Command {
	return Command{Type: CommandRetrieve, Name: name}
}

// NewRelocateCommand returns a MOVE command for sourcePath into targetDir.
func NewRelocateCommand(sourcePath, targetDir string) Command {
	return Command{Type: CommandRelocate, Name: sourcePath, TargetDir: targetDir}
}

// NewRemoveCommand returns a DELETE command for name.
func NewRemoveCommand(name string) Command {
	return Command{Type: CommandRemove, Name: name}
}

// Mutating reports whether a successful execution of the command changes
// the server directory.
func (c Command) Mutating() bool {
	return c.Type == CommandStore || c.Type == CommandRelocate || c.Type == CommandRemove
}

// Validate checks that the command can be put on the wire.
func (c Command) Validate() error {
	if _, ok := commandTags[c.Type]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, c.Type)
	}
	if err := limits.ValidateArgument(c.Name); err != nil {
		return fmt.Errorf("%s name: %w", c.Type, err)
	}
	if c.Type == CommandRelocate {
		if err := limits.ValidateArgument(c.TargetDir); err != nil {
			return fmt.Errorf("%s target: %w", c.Type, err)
		}
	} else if c.TargetDir != "" {
		return fmt.Errorf("%s: unexpected target directory", c.Type)
	}
	return nil
}

func (c Command) String() string {
	if c.Type == CommandRelocate {
		return fmt.Sprintf("%s %q -> %q", c.Type, c.Name, c.TargetDir)
	}
	return fmt.Sprintf("%s %q", c.Type, c.Name)
}

// WriteCommand frames cmd onto w: tag, argument1 and, for MOVE, argument2.
// Strings are a big-endian uint16 byte length followed by UTF-8 bytes.
func WriteCommand(w io.Writer, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	// Assemble the header in one buffer so it leaves in a single write.
	buf := appendString(nil, cmd.Type.String())
	buf = appendString(buf, cmd.Name)
	if cmd.Type == CommandRelocate {
		buf = appendString(buf, cmd.TargetDir)
	}

	_, err := w.Write(buf)
	return err
}

// ReadCommand decodes one command from r. Truncation yields
// ErrMalformedCommand and an unrecognised tag yields ErrUnknownCommand; any
// store payload is left unread in r.
func ReadCommand(r io.Reader) (Command, error) {
	tag, err := readString(r)
	if err != nil {
		return Command{}, err
	}

	cmdType, err := ParseCommandType(tag)
	if err != nil {
		return Command{}, err
	}

	name, err := readString(r)
	if err != nil {
		return Command{}, fmt.Errorf("%s name: %w", cmdType, err)
	}

	cmd := Command{Type: cmdType, Name: name}
	if cmdType == CommandRelocate {
		cmd.TargetDir, err = readString(r)
		if err != nil {
			return Command{}, fmt.Errorf("%s target: %w", cmdType, err)
		}
	}

	return cmd, nil
}

// appendString appends the length-prefixed encoding of s to buf.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads one length-prefixed string.
func readString(r io.Reader) (string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", malformed(err)
	}

	length := binary.BigEndian.Uint16(header[:])
	if length == 0 {
		return "", fmt.Errorf("%w: %w", ErrMalformedCommand, limits.ErrArgumentEmpty)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", malformed(err)
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %w", ErrMalformedCommand, limits.ErrArgumentEncoding)
	}

	return string(data), nil
}

// malformed classifies a short read as a malformed command and passes any
// other transport error through.
func malformed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrMalformedCommand, io.ErrUnexpectedEOF)
	}
	return err
}
