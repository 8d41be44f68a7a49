package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	cloned := Clone(ErrRowNotFound, "row new-1 not found")

	assert.True(t, stdErrors.Is(cloned, ErrRowNotFound))
	assert.False(t, stdErrors.Is(cloned, ErrSessionNotFound))
	assert.Equal(t, "row new-1 not found", cloned.Message)
	assert.Equal(t, "assignment row not found", ErrRowNotFound.Message)
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)

	wrapped := fmt.Errorf("submit: %w", Wrap(stdErrors.New("dial tcp"), ErrUpstream.Code, ErrUpstream.Status, "save failed"))
	assert.Equal(t, ErrUpstream.Code, FromError(wrapped).Code)
	assert.True(t, stdErrors.Is(wrapped, ErrUpstream))
}
