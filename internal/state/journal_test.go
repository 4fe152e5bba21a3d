package state

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendAndTail(t *testing.T) {
	journal, err := NewJournal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, journal.Append("WAIT (0.50)", nil))
	require.NoError(t, journal.Append("CLICK @ (0.25,0.75) (0.90)", map[string]any{"fingerprint": "abc"}))

	entries, err := journal.Tail(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "WAIT (0.50)", entries[0].Summary)
	assert.Equal(t, "CLICK @ (0.25,0.75) (0.90)", entries[1].Summary)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, "abc", entries[1].Meta["fingerprint"])
}

func TestJournal_TailLimitsToNewest(t *testing.T) {
	journal, err := NewJournal(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, journal.Append("WAIT (0.50)", map[string]any{"seq": i}))
	}

	entries, err := journal.Tail(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.InDelta(t, 3, entries[0].Meta["seq"], 0.01)
	assert.InDelta(t, 4, entries[1].Meta["seq"], 0.01)
}

func TestJournal_MissingFile(t *testing.T) {
	journal, err := NewJournal(t.TempDir())
	require.NoError(t, err)

	entries, err := journal.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(dir)
	require.NoError(t, err)

	require.NoError(t, journal.Append("first", nil))

	f, err := os.OpenFile(journal.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, journal.Append("second", nil))

	entries, err := journal.Tail(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Summary)
	assert.Equal(t, "second", entries[1].Summary)
}
