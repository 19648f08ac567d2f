package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPaginationClampsInput(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, 1, p.Page)
	require.Equal(t, DefaultPerPage, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.True(t, p.HasNext)
	require.Equal(t, 0, p.Offset())

	p = NewPagination(3, 1000, 450)
	require.Equal(t, MaxPerPage, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.False(t, p.HasNext)
	require.Equal(t, 400, p.Offset())

	require.Equal(t, 0, NewPagination(1, 10, 0).TotalPages)
}

func TestPeriodLockKeyIsScopedByCompany(t *testing.T) {
	require.Equal(t, "ledger:lock:company:1:period:3", PeriodLockKey(1, 3))
	require.NotEqual(t, PeriodLockKey(1, 3), PeriodLockKey(2, 3))
}
