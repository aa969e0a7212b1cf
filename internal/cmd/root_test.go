package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := exitError(ExitConfigError, "failed to load configuration", inner)

	var exitErr *ExitCodeError
	require := assert.New(t)
	require.True(errors.As(err, &exitErr))
	require.Equal(ExitConfigError, exitErr.Code)
	require.True(errors.Is(err, inner))
}

func TestExitCodeErrorMessageWithoutWrappedErr(t *testing.T) {
	err := &ExitCodeError{Code: ExitInterrupted, Message: "interrupted"}
	assert.Equal(t, "interrupted", err.Error())
}
