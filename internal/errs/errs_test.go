package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorString(t *testing.T) {
	e := New(InputInvalid, "bad path")
	assert.Equal(t, "[INPUT_INVALID] bad path", e.Error())

	wrapped := Wrap(StorageTransient, "busy", fmt.Errorf("database is locked"))
	assert.Contains(t, wrapped.Error(), "busy")
	assert.Contains(t, wrapped.Error(), "database is locked")
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(NotFound, "x", nil))
}

func TestError_IsMatchesByKind(t *testing.T) {
	a := New(NotFound, "document 1 not found")
	b := New(NotFound, "document 2 not found")
	c := New(InputInvalid, "bad query")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestError_UnwrapChain(t *testing.T) {
	cause := fmt.Errorf("disk full")
	e := Wrap(StorageFatal, "write failed", cause)

	require.ErrorIs(t, e, cause)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(StorageTransient, "locked")))
	assert.False(t, Retryable(New(StorageFatal, "corrupt")))
	assert.False(t, Retryable(fmt.Errorf("plain error")))
}

func TestGetKind(t *testing.T) {
	assert.Equal(t, ParseSoftFail, GetKind(New(ParseSoftFail, "bad frontmatter")))
	assert.Equal(t, Kind(""), GetKind(fmt.Errorf("plain")))
}

func TestWithDetail(t *testing.T) {
	e := New(InputInvalid, "bad").WithDetail("field", "path")
	assert.Equal(t, "path", e.Details["field"])
}
