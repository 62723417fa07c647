package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowError_Format(t *testing.T) {
	err := NewError(ErrCodeNodeFailed, "boom").WithNode("n1")
	assert.Equal(t, "[NODE_FAILED] node n1: boom", err.Error())

	err = NewErrorf(ErrCodeValidation, "graph has %d nodes", 0)
	assert.Equal(t, "[VALIDATION_ERROR] graph has 0 nodes", err.Error())
}

func TestFlowError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("wrapped: %w", NewError(ErrCodeCollaborator, "image api").WithCause(cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeCollaborator, ErrorCode(err))
	assert.True(t, IsCode(err, ErrCodeCollaborator))
	assert.Equal(t, "", ErrorCode(cause))
	assert.False(t, IsCode(nil, ErrCodeCollaborator))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrCodeCollaborator, "503")))
	assert.True(t, IsRetryable(NewError(ErrCodeTimeout, "slow")))
	assert.False(t, IsRetryable(NewError(ErrCodeValidation, "bad")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
