package jit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/colorfulnotion/jitrt/log"
)

// JournalSink persists announced records so the set of installed
// functions survives for post-mortem inspection. Like every sink it is
// fire-and-forget: a failed write is logged, never surfaced to the
// build that triggered it.
type JournalSink struct {
	db *leveldb.DB
}

// JournalEntry is the stored form of one announcement.
type JournalEntry struct {
	Name        string    `json:"name"`
	Addr        uint64    `json:"addr"`
	Size        int       `json:"size"`
	InstalledAt time.Time `json:"installed_at"`
}

var journalPrefix = []byte("fn|")

func journalKey(name string) []byte {
	return append(append([]byte{}, journalPrefix...), name...)
}

// OpenJournal opens or creates the journal at the given path. An empty
// path uses in-memory storage.
func OpenJournal(path string) (*JournalSink, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		memStorage := leveldbstorage.NewMemStorage()
		db, err = leveldb.Open(memStorage, nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}

	return &JournalSink{db: db}, nil
}

func (j *JournalSink) Close() error {
	return j.db.Close()
}

func (j *JournalSink) Announce(rec Record) {
	entry := JournalEntry{
		Name:        rec.Name,
		Addr:        uint64(rec.Addr),
		Size:        rec.Size,
		InstalledAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn(log.BuildMonitoring, "journal entry not encoded", "name", rec.Name, "err", err)
		return
	}
	if err := j.db.Put(journalKey(rec.Name), data, nil); err != nil {
		log.Warn(log.BuildMonitoring, "journal entry not written", "name", rec.Name, "err", err)
	}
}

// Entries returns every journaled announcement sorted by name.
func (j *JournalSink) Entries() ([]JournalEntry, error) {
	iter := j.db.NewIterator(nil, nil)
	defer iter.Release()

	var results []JournalEntry
	for ok := iter.Seek(journalPrefix); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(journalPrefix) {
			break
		}
		match := true
		for i := 0; i < len(journalPrefix); i++ {
			if key[i] != journalPrefix[i] {
				match = false
				break
			}
		}
		if !match {
			break
		}

		var entry JournalEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("decode journal entry %s: %w", key[len(journalPrefix):], err)
		}
		results = append(results, entry)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	return results, nil
}
