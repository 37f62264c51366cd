package error

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugErrorKind(t *testing.T) {
	err := WrapProcessError("write command", errors.New("broken pipe"))
	assert.True(t, IsKind(err, ProcessError))
	assert.False(t, IsKind(err, StateError))
	assert.Contains(t, err.Error(), "broken pipe")

	wrapped := fmt.Errorf("run: %w", ErrSessionNotStarted)
	assert.True(t, errors.Is(wrapped, ErrSessionNotStarted))
	assert.True(t, errors.Is(wrapped, &DebugError{Kind: StateError}))
	assert.False(t, errors.Is(wrapped, ErrNotPaused))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, WrapProcessError("noop", nil))
}
