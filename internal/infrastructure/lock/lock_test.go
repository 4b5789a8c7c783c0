package lock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/infrastructure/lock"
)

func TestLocalLocker_ExclusionPorClave(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocalLocker()

	release, ok, err := l.TryLock(ctx, "poller")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "poller")
	require.NoError(t, err)
	assert.False(t, ok, "la segunda adquisición debe fallar mientras el lock está tomado")

	other, ok, err := l.TryLock(ctx, "expiry")
	require.NoError(t, err)
	assert.True(t, ok, "claves distintas no se bloquean entre sí")
	other()

	release()
	release() // idempotente

	again, ok, err := l.TryLock(ctx, "poller")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}
