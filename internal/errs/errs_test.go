package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindForbidden, KindOf(New(KindForbidden, "nope")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(KindNotFound, "missing row")
	outer := fmt.Errorf("loading message: %w", inner)

	assert.Equal(t, KindNotFound, KindOf(outer), "kind should survive fmt wrapping")
	assert.True(t, Is(outer, KindNotFound))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindTransient, "store unavailable")

	assert.True(t, errors.Is(err, cause), "cause must stay reachable")
	assert.Equal(t, "store unavailable: connection refused", err.Error())
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "forbidden", KindForbidden.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
