package transport

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/opd-ai/filepeer/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOfRoundTripsThroughErr(t *testing.T) {
	for s := range statusNames {
		assert.Equal(t, s, StatusOf(s.Err()), "status %s", s)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{fmt.Errorf("remove x: %w", ErrNotFound), StatusNotFound},
		{fmt.Errorf("store ../x: %w", ErrForbidden), StatusForbidden},
		{ErrNoSpace, StatusNoSpace},
		{ErrUnknownCommand, StatusBadRequest},
		{fmt.Errorf("%w: short", ErrMalformedCommand), StatusBadRequest},
		{limits.ErrNameTooLong, StatusBadRequest},
		{io.ErrUnexpectedEOF, StatusIOError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "err %v", tt.err)
	}
}

func TestReadStatus(t *testing.T) {
	s, err := ReadStatus(bytes.NewReader([]byte{byte(StatusNoSpace)}))
	require.NoError(t, err)
	assert.Equal(t, StatusNoSpace, s)

	_, err = ReadStatus(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadStatus(bytes.NewReader([]byte{200}))
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestSizeEncoding(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSize(&buf, 1<<40+7))
	assert.Equal(t, 8, buf.Len())

	size, err := ReadSize(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40+7), size)

	_, err = ReadSize(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, ErrMalformedCommand)

	_, err = ReadSize(bytes.NewReader([]byte{0, 0, 0}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
