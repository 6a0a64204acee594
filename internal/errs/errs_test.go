package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, OK.ExitCode())
	assert.Equal(t, 4, IO.ExitCode())
	assert.Equal(t, 11, NOTDIR.ExitCode())
}

func TestAsRecoversWrappedCode(t *testing.T) {
	base := New(NOENT, "missing path component %q", "usr")
	wrapped := errors.Wrap(base, "resolve")
	assert.Equal(t, NOENT, As(wrapped))
}

func TestAsDefaultsToIOForOpaqueError(t *testing.T) {
	assert.Equal(t, IO, As(errors.New("boom")))
	assert.Equal(t, OK, As(nil))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "CORRUPT", CORRUPT.String())
}
