package singleinstance

import (
	"errors"
	"testing"

	"github.com/gabriel2392/brokkr/core"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireThenSecondFails(t *testing.T) {
	l1, err := TryAcquire()
	require.NoError(t, err)
	defer l1.Release()

	_, err = TryAcquire()
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrLock))
}

func TestReleaseThenReacquire(t *testing.T) {
	l1, err := TryAcquire()
	require.NoError(t, err)
	require.NoError(t, l1.Release())

	l2, err := TryAcquire()
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
