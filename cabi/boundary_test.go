package main

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phasedarray/tilebeam/ffi"
)

func lastErrorText(t *testing.T) string {
	t.Helper()
	buf := make([]byte, ffi.LastErrorLength())
	n := ffi.CopyLastError(buf)
	require.Greater(t, n, 0)
	return string(buf[:n-1])
}

func TestParseBool(t *testing.T) {
	v, err := parseBool("iau_order", 0)
	require.NoError(t, err)
	assert.False(t, v)

	v, err = parseBool("iau_order", 1)
	require.NoError(t, err)
	assert.True(t, v)

	status := ffi.Guard(func() error {
		_, err := parseBool("iau_order", 2)
		return err
	})
	assert.Equal(t, ffi.StatusInvalidArg, status)
	assert.Contains(t, lastErrorText(t), "iau_order")
}

func TestCheckNumAmps(t *testing.T) {
	for _, n := range []uint32{16, 32} {
		got, err := checkNumAmps(n)
		require.NoError(t, err)
		assert.Equal(t, int(n), got)
	}

	status := ffi.Guard(func() error {
		_, err := checkNumAmps(17)
		return err
	})
	assert.Equal(t, ffi.StatusInvalidArg, status)
	assert.Contains(t, lastErrorText(t), "num_amps")
}

func TestLastErrorMessageRoundTrip(t *testing.T) {
	ffi.SetLastError("device lost")
	buf := make([]byte, ffi.LastErrorLength())

	n := lastErrorMessage(unsafe.Pointer(&buf[0]), int32(len(buf)))
	require.Equal(t, int32(len(buf)), n)
	assert.Equal(t, "device lost", string(buf[:n-1]))
	assert.Equal(t, byte(0), buf[n-1])
}

func TestLastErrorMessageRejectsBadLengths(t *testing.T) {
	ffi.SetLastError("some error")
	buf := make([]byte, 8)

	// A hostile or garbage length must come back as -1, never fault.
	assert.Equal(t, int32(-1), lastErrorMessage(unsafe.Pointer(&buf[0]), -1))
	assert.Equal(t, int32(-1), lastErrorMessage(unsafe.Pointer(&buf[0]), 0))
	assert.Equal(t, int32(-1), lastErrorMessage(nil, 16))

	// Positive but too small for the message is -1 as well.
	assert.Equal(t, int32(-1), lastErrorMessage(unsafe.Pointer(&buf[0]), int32(len(buf))))
}
