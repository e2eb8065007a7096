package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/opd-ai/filepeer/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame builds a raw request the way a foreign peer would.
func frame(parts ...string) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		binary.Write(&buf, binary.BigEndian, uint16(len(p)))
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func TestWriteCommandLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCommand(&buf, NewStoreCommand("a.txt")))
	assert.Equal(t, frame("UPLOAD", "a.txt"), buf.Bytes())

	buf.Reset()
	require.NoError(t, WriteCommand(&buf, NewRelocateCommand("/srv/a.txt", "/srv/sub")))
	assert.Equal(t, frame("MOVE", "/srv/a.txt", "/srv/sub"), buf.Bytes())
}

func TestReadCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want Command
	}{
		{name: "upload", raw: frame("UPLOAD", "a.txt"), want: NewStoreCommand("a.txt")},
		{name: "download", raw: frame("DOWNLOAD", "b.bin"), want: NewRetrieveCommand("b.bin")},
		{name: "move", raw: frame("MOVE", "/r/a", "/r/d"), want: NewRelocateCommand("/r/a", "/r/d")},
		{name: "delete", raw: frame("DELETE", "c"), want: NewRemoveCommand("c")},
		{name: "unicode name", raw: frame("UPLOAD", "файл.txt"), want: NewStoreCommand("файл.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCommand(bytes.NewReader(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCommandLeavesPayload(t *testing.T) {
	raw := append(frame("UPLOAD", "a.txt"), []byte("payload bytes")...)
	r := bytes.NewReader(raw)

	cmd, err := ReadCommand(r)
	require.NoError(t, err)
	assert.Equal(t, CommandStore, cmd.Type)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(rest))
}

func TestReadCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		wantErr error
	}{
		{name: "unknown tag", raw: frame("FOO", "a.txt"), wantErr: ErrUnknownCommand},
		{name: "lowercase tag", raw: frame("upload", "a.txt"), wantErr: ErrUnknownCommand},
		{name: "empty stream", raw: nil, wantErr: ErrMalformedCommand},
		{name: "half length prefix", raw: []byte{0x00}, wantErr: ErrMalformedCommand},
		{name: "truncated tag", raw: frame("UPLOAD")[:5], wantErr: ErrMalformedCommand},
		{name: "missing name", raw: frame("DELETE"), wantErr: ErrMalformedCommand},
		{name: "move without target", raw: frame("MOVE", "/a"), wantErr: ErrMalformedCommand},
		{name: "empty name", raw: frame("DELETE", ""), wantErr: ErrMalformedCommand},
		{name: "invalid utf8", raw: frame("DELETE", string([]byte{0xc3, 0x28})), wantErr: ErrMalformedCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCommand(bytes.NewReader(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestCommandValidate(t *testing.T) {
	assert.NoError(t, NewRemoveCommand("x").Validate())
	assert.ErrorIs(t, NewRemoveCommand("").Validate(), limits.ErrArgumentEmpty)
	assert.ErrorIs(t, NewRelocateCommand("/a", "").Validate(), limits.ErrArgumentEmpty)
	assert.ErrorIs(t, Command{Type: 42, Name: "x"}.Validate(), ErrUnknownCommand)
	assert.Error(t, Command{Type: CommandStore, Name: "x", TargetDir: "/d"}.Validate())

	long := strings.Repeat("n", limits.MaxArgumentLength+1)
	assert.ErrorIs(t, WriteCommand(io.Discard, NewStoreCommand(long)), limits.ErrArgumentTooLong)
}

func TestCommandMutating(t *testing.T) {
	assert.True(t, NewStoreCommand("a").Mutating())
	assert.True(t, NewRelocateCommand("a", "b").Mutating())
	assert.True(t, NewRemoveCommand("a").Mutating())
	assert.False(t, NewRetrieveCommand("a").Mutating())
}

func TestCommandTypeString(t *testing.T) {
	assert.Equal(t, "UPLOAD", CommandStore.String())
	assert.Equal(t, "DOWNLOAD", CommandRetrieve.String())
	assert.Equal(t, "MOVE", CommandRelocate.String())
	assert.Equal(t, "DELETE", CommandRemove.String())
	assert.Equal(t, "CommandType(9)", CommandType(9).String())
}
