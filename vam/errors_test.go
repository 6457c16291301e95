package vam

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func TestNativeErrorSentinels(t *testing.T) {
	cause := errors.New("driver exploded")

	outOfMemory := nativeError(core1_0.VKErrorOutOfDeviceMemory, cause, "AllocateMemory")
	require.True(t, stderrors.Is(outOfMemory, ErrOutOfMemory))
	require.False(t, stderrors.Is(outOfMemory, ErrInternal))
	require.Contains(t, outOfMemory.Error(), "AllocateMemory failed")
	require.Contains(t, outOfMemory.Error(), "driver exploded")

	internal := nativeError(core1_0.VKErrorUnknown, nil, "MapMemory")
	require.True(t, stderrors.Is(internal, ErrInternal))
	require.False(t, stderrors.Is(internal, ErrOutOfMemory))
	require.Contains(t, internal.Error(), "driver returned")
}

func TestWrapCauseKeepsSentinel(t *testing.T) {
	cause := errors.New("not a power of two")
	err := wrapCause(ErrInvalidAllocationCreateDesc, cause, "bad alignment")

	require.True(t, stderrors.Is(err, ErrInvalidAllocationCreateDesc))
	require.ErrorIs(t, err, ErrInvalidAllocationCreateDesc)
	require.Equal(t, "bad alignment: not a power of two: invalid allocation create desc", err.Error())
}
