package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyExplicitClasses(t *testing.T) {
	base := errors.New("boom")

	assert.Equal(t, ErrorTransient, Classify(TransientError(base)))
	assert.Equal(t, ErrorCredential, Classify(CredentialError(base)))
	assert.Equal(t, ErrorMalformed, Classify(MalformedError(base)))
	assert.Equal(t, ErrorTerminal, Classify(TerminalError(base)))
}

func TestClassifySurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("fetch message m1: %w", TransientError(errors.New("connection reset")))
	assert.Equal(t, ErrorTransient, Classify(err))
	assert.True(t, IsRetryable(err))
}

func TestClassifyDeadlineIsTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(context.DeadlineExceeded))
}

func TestClassifyUnknownIsTerminal(t *testing.T) {
	assert.Equal(t, ErrorTerminal, Classify(errors.New("some unknown failure")))
	assert.False(t, IsRetryable(errors.New("some unknown failure")))
}

func TestCredentialErrorsAreRetryable(t *testing.T) {
	// The retry path refreshes the token before touching the provider,
	// so a credential failure deserves another attempt.
	assert.True(t, IsRetryable(CredentialError(errors.New("token expired"))))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := TransientError(base)
	assert.True(t, errors.Is(err, base))
}
