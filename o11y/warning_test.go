package o11y

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
)

func TestIsWarning(t *testing.T) {
	warn := NewWarning("session setup skipped")
	assert.Check(t, IsWarning(warn))
	assert.Check(t, IsWarning(fmt.Errorf("wrapped: %w", warn)))
	assert.Check(t, !IsWarning(errors.New("real error")))

	// Two warnings are never mistaken for each other.
	other := NewWarning("session setup skipped")
	assert.Check(t, !errors.Is(warn, other))
}

func TestDontErrorTrace(t *testing.T) {
	assert.Check(t, DontErrorTrace(NewWarning("w")))
	assert.Check(t, DontErrorTrace(context.Canceled))
	assert.Check(t, DontErrorTrace(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Check(t, !DontErrorTrace(errors.New("boom")))
}
