package clienttable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	tbl := New()

	e := tbl.Insert("dummy")
	got, ok := tbl.Lookup("dummy")
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, BurstDepth, cap(e.Sender))
}

func TestSecondInsertReplacesAndStopsFirst(t *testing.T) {
	tbl := New()

	first := tbl.Insert("dummy")
	second := tbl.Insert("dummy")

	assert.NotSame(t, first, second)

	select {
	case <-first.Stop:
	default:
		t.Fatal("expected first entry's Stop channel to be closed")
	}

	got, ok := tbl.Lookup("dummy")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, tbl.Len())
}

func TestRemoveOnlyCurrentEntry(t *testing.T) {
	tbl := New()

	first := tbl.Insert("dummy")
	tbl.Remove("dummy", first)
	_, ok := tbl.Lookup("dummy")
	assert.False(t, ok)

	second := tbl.Insert("dummy")
	tbl.Remove("dummy", first) // stale handle, should be a no-op
	got, ok := tbl.Lookup("dummy")
	require.True(t, ok)
	assert.Same(t, second, got)
}
