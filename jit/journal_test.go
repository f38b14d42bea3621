package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJournalRoundTrip validates announce-then-list over in-memory
// storage, including name ordering.
func TestJournalRoundTrip(t *testing.T) {
	j, err := OpenJournal("")
	require.NoError(t, err)
	defer j.Close()

	j.Announce(Record{Addr: 0x3000, Size: 48, Name: "gamma"})
	j.Announce(Record{Addr: 0x1000, Size: 16, Name: "alpha"})
	j.Announce(Record{Addr: 0x2000, Size: 32, Name: "beta"})

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].Name, "entries must come back name sorted")
	assert.Equal(t, "beta", entries[1].Name)
	assert.Equal(t, "gamma", entries[2].Name)
	assert.Equal(t, uint64(0x2000), entries[1].Addr)
	assert.Equal(t, 32, entries[1].Size)
	assert.False(t, entries[0].InstalledAt.IsZero(), "install time must be recorded")
}

// TestJournalRebuildOverwrites validates that re-announcing a name keeps
// one entry with the latest installation.
func TestJournalRebuildOverwrites(t *testing.T) {
	j, err := OpenJournal("")
	require.NoError(t, err)
	defer j.Close()

	j.Announce(Record{Addr: 0x1000, Size: 16, Name: "hot"})
	j.Announce(Record{Addr: 0x5000, Size: 64, Name: "hot"})

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(0x5000), entries[0].Addr)
	assert.Equal(t, 64, entries[0].Size)
}

// TestJournalPersistence validates that entries survive close and
// reopen of a file-backed journal.
func TestJournalPersistence(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	j.Announce(Record{Addr: 0x4000, Size: 128, Name: "durable"})
	require.NoError(t, j.Close())

	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j2.Close()

	entries, err := j2.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "durable", entries[0].Name)
	assert.Equal(t, uint64(0x4000), entries[0].Addr)
}
