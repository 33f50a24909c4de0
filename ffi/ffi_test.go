package ffi

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardStatusMapping(t *testing.T) {
	assert.Equal(t, StatusOK, Guard(func() error { return nil }))
	assert.Equal(t, StatusError, Guard(func() error { return errors.New("boom") }))
	assert.Equal(t, StatusInvalidArg, Guard(func() error { return Invalidf("bad flag %d", 7) }))
	assert.Equal(t, StatusInvalidArg, Guard(func() error {
		return errors.Wrap(Invalidf("bad size"), "outer")
	}))
}

func TestGuardInterceptsPanic(t *testing.T) {
	status := Guard(func() error { panic("unreachable state") })
	assert.Equal(t, StatusPanic, status)

	buf := make([]byte, LastErrorLength())
	n := CopyLastError(buf)
	require.Greater(t, n, 0)
	assert.Contains(t, string(buf[:n-1]), "unreachable state")
}

func TestLastErrorRoundTrip(t *testing.T) {
	SetLastError("no such file: coeffs.json")
	require.Equal(t, len("no such file: coeffs.json")+1, LastErrorLength())

	buf := make([]byte, LastErrorLength())
	n := CopyLastError(buf)
	require.Equal(t, len(buf), n)
	assert.Equal(t, "no such file: coeffs.json", string(buf[:n-1]))
	assert.Equal(t, byte(0), buf[n-1])
}

func TestCopyLastErrorTooSmall(t *testing.T) {
	SetLastError("a longer message than the buffer")
	buf := make([]byte, 4)
	assert.Equal(t, -1, CopyLastError(buf))
}

func TestGuardRecordsErrorMessage(t *testing.T) {
	SetLastError("")
	Guard(func() error { return errors.New("device lost") })

	buf := make([]byte, LastErrorLength())
	n := CopyLastError(buf)
	require.Greater(t, n, 0)
	assert.Equal(t, "device lost", string(buf[:n-1]))
}

func TestRegistryHandleLifecycle(t *testing.T) {
	r := NewRegistry[string]()

	h1 := r.Put("one")
	h2 := r.Put("two")
	require.NotZero(t, h1)
	require.NotZero(t, h2)
	require.NotEqual(t, h1, h2)

	v, err := r.Get(h1)
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	v, err = r.Remove(h1)
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	// Removing or looking up a freed handle fails with a validation error.
	_, err = r.Get(h1)
	require.Error(t, err)
	_, err = r.Remove(h1)
	require.Error(t, err)
	var inv *InvalidArgError
	assert.ErrorAs(t, err, &inv)

	// Later handles never reuse freed values.
	h3 := r.Put("three")
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h2, h3)
}

func TestRegistryZeroHandleInvalid(t *testing.T) {
	r := NewRegistry[int]()
	_, err := r.Get(0)
	require.Error(t, err)
}
