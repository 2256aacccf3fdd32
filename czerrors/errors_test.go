package czerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassValidation, ClassOf(ErrUnrecognizedSender))
	assert.Equal(t, ClassConsensus, ClassOf(fmt.Errorf("%w: input 0", ErrUnknownPreviousOutput)))
	assert.Equal(t, ClassTransport, ClassOf(fmt.Errorf("%w: deadline", ErrVerifierUnavailable)))
	assert.Equal(t, ClassFatal, ClassOf(fmt.Errorf("%w: disk full", ErrPersistDivergence)))
	assert.Equal(t, ClassUnknown, ClassOf(errors.New("boom")))
	assert.Equal(t, ClassUnknown, ClassOf(nil))

	joined := errors.Join(ErrDuplicateNullifier, ErrPersistDivergence)
	assert.True(t, IsFatal(joined))
	assert.False(t, IsFatal(ErrDuplicateNullifier))
}

func TestErrorNames(t *testing.T) {
	wrapped := fmt.Errorf("%w: nullifier 0xab", ErrDuplicateNullifier)
	assert.Equal(t, "DuplicateNullifier", GetErrorName(wrapped))
	assert.Equal(t, "C2", GetErrorCode(wrapped))
	assert.Equal(t, "C2_DuplicateNullifier", GetErrorCodeWithName(wrapped))
	assert.Equal(t, "No Error", GetErrorName(nil))
	assert.Equal(t, "", GetErrorCode(errors.New("plain")))
	assert.Equal(t, "consensus", ClassConsensus.String())
}
