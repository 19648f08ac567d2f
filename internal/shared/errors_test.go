package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := Conflict("period_closed", "period is closed")
	wrapped := fmt.Errorf("post: %w", err)

	require.True(t, errors.Is(wrapped, ErrStateConflict))
	require.False(t, errors.Is(wrapped, ErrValidation))
	require.True(t, errors.Is(wrapped, err))
	require.Equal(t, ErrStateConflict, KindOf(wrapped))
}

func TestKindOfUntypedIsStorage(t *testing.T) {
	require.Equal(t, ErrStorageFailure, KindOf(errors.New("conn reset")))
	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, ErrForbidden, KindOf(ErrForbidden))
}

func TestStorageKeepsTypedErrors(t *testing.T) {
	typed := Validation("bad", "bad input")
	require.Same(t, typed, Storage("insert", typed))
	raw := errors.New("boom")
	wrapped := Storage("insert", raw)
	require.ErrorIs(t, wrapped, ErrStorageFailure)
	require.ErrorIs(t, wrapped, raw)
	require.NoError(t, Storage("noop", nil))
}

func TestDuplicateIsDetected(t *testing.T) {
	err := Duplicate("voucher_exists", 42)
	require.True(t, IsDuplicate(err))
	require.Contains(t, err.Error(), "42")
}

func TestErrorMatchesCode(t *testing.T) {
	sentinel := Conflict("period_closed", "period is closed")
	other := Conflict("period_closed", "January 2024 is closed")
	require.ErrorIs(t, other, sentinel)
	require.NotErrorIs(t, Conflict("period_busy", "busy"), sentinel)
	require.NotErrorIs(t, Validation("period_closed", "x"), sentinel)
}
