package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/errs"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(errs.NotFound("form", "f1")))
	assert.Equal(t, errs.CodeInternal, errs.CodeOf(errors.New("plain")))
	assert.Equal(t, errs.CodeInternal, errs.CodeOf(nil))

	wrapped := fmt.Errorf("handler: %w", errs.NoActiveVersion("f1"))
	assert.Equal(t, errs.CodeNoActiveVersion, errs.CodeOf(wrapped))
	assert.True(t, errs.IsCode(wrapped, errs.CodeNoActiveVersion))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := errs.Internal(cause, "insert response")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "insert response")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestMessages(t *testing.T) {
	assert.EqualError(t, errs.NotFound("version", "v9"), "NOT_FOUND: version v9 not found")
	assert.EqualError(t, errs.StateTransition("approved", "draft"),
		"ILLEGAL_STATE_TRANSITION: cannot transition response from approved to draft")
}
