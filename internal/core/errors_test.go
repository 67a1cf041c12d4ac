package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk on fire")

func TestWrap_NilError(t *testing.T) {
	t.Parallel()

	require.NoError(t, core.Wrap(core.KindIO, "op", "message", nil))
}

func TestWrap_KeepsInnermostKind(t *testing.T) {
	t.Parallel()

	inner := core.New(core.KindForbidden, "pathguard.resolve", "path escapes root")
	outer := core.Wrap(core.KindIO, "artifacts.read", "read failed", fmt.Errorf("context: %w", inner))

	assert.Equal(t, core.KindForbidden, core.KindOf(outer))
	assert.True(t, core.IsKind(outer, core.KindForbidden))
	assert.False(t, core.IsKind(outer, core.KindIO))
}

func TestWrap_ClassifiesPlainError(t *testing.T) {
	t.Parallel()

	err := core.Wrap(core.KindStoreUnavailable, "voices.list", "cannot read voices", errDisk)

	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, core.KindStoreUnavailable, core.KindOf(err))
	assert.Contains(t, err.Error(), "store_unavailable")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestKindOf_UntypedError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, core.Kind(""), core.KindOf(errDisk))
	assert.False(t, core.IsKind(nil, core.KindIO))
}

func TestDiagnosticOf(t *testing.T) {
	t.Parallel()

	err := &core.Error{
		Kind:       core.KindSynthesisFailed,
		Op:         "tts.synthesize",
		Message:    "engine exited with status 3",
		Diagnostic: "CUDA out of memory",
	}

	assert.Equal(t, "CUDA out of memory", core.DiagnosticOf(fmt.Errorf("wrapped: %w", err)))
	assert.NotContains(t, err.Error(), "CUDA")
	assert.Empty(t, core.DiagnosticOf(errDisk))
}
