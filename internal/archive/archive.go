// Package archive keeps a revisioned history of every crawled server on
// local disk, one revision per crawl run.
package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Bucket names in bbolt
var (
	bucketObservations = []byte("observations")
	bucketRuns         = []byte("runs")
	bucketMeta         = []byte("meta")

	keyRevision = []byte("current_revision")
)

// Archive stores observations and disappearances keyed by server and
// revision, with an in-memory index of the latest state of each server.
type Archive struct {
	mu sync.RWMutex

	index *btree.BTreeG[*ServerState]
	db    *bbolt.DB

	currentRev int64
}

// ServerState tracks a server across revisions.
type ServerState struct {
	ServerID       string
	AccountID      string
	Region         string
	FirstSeenRev   int64
	LastSeenRev    int64
	DisappearedRev int64
	Exists         bool
}

// Entry is one archived revision of a server. Server is nil for a
// disappearance.
type Entry struct {
	Revision  int64                    `json:"revision"`
	RunID     string                   `json:"runId"`
	At        time.Time                `json:"at"`
	Tombstone bool                     `json:"tombstone"`
	Server    *inventory.ServerDetails `json:"server,omitempty"`
}

// Run summarises one recorded crawl.
type Run struct {
	ID          string    `json:"id"`
	Revision    int64     `json:"revision"`
	At          time.Time `json:"at"`
	Observed    int       `json:"observed"`
	Disappeared int       `json:"disappeared"`
}

// Open opens or creates the archive file at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketObservations, bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &Archive{
		index: newIndex(),
		db:    db,
	}
	if err := a.load(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the archive file.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordRun stores one crawl as a single revision: an entry for every
// observed server and a tombstone for every disappeared id.
func (a *Archive) RecordRun(runID string, at time.Time, servers []*inventory.ServerDetails, disappeared []string) (Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rev := a.currentRev + 1
	run := Run{ID: runID, Revision: rev, At: at, Observed: len(servers), Disappeared: len(disappeared)}

	err := a.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObservations)

		for _, s := range servers {
			if err := putEntry(bucket, s.ID, Entry{Revision: rev, RunID: runID, At: at, Server: s}); err != nil {
				return err
			}
		}
		for _, id := range disappeared {
			if err := putEntry(bucket, id, Entry{Revision: rev, RunID: runID, At: at, Tombstone: true}); err != nil {
				return err
			}
		}

		value, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put(int64ToBytes(rev), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRevision, int64ToBytes(rev))
	})
	if err != nil {
		return Run{}, fmt.Errorf("failed to record run %s: %w", runID, err)
	}

	a.currentRev = rev
	for _, s := range servers {
		a.observe(s.ID, s.AccountID, s.Region, rev)
	}
	for _, id := range disappeared {
		a.disappear(id, rev)
	}
	return run, nil
}

// State returns the latest known state of a server.
func (a *Archive) State(serverID string) (*ServerState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.index.Get(&ServerState{ServerID: serverID})
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

// History returns every archived revision of a server, oldest first.
func (a *Archive) History(serverID string) ([]Entry, error) {
	var entries []Entry
	prefix := entryPrefix(serverID)

	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketObservations).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt entry %q: %w", k, err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Runs returns the most recent runs, newest first. A limit of zero returns
// all of them.
func (a *Archive) Runs(limit int) ([]Run, error) {
	var runs []Run
	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}

// ByAccount returns the servers of an account that still exist, ordered
// by id.
func (a *Archive) ByAccount(accountID string) []*ServerState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []*ServerState
	a.index.Ascend(func(st *ServerState) bool {
		if st.AccountID == accountID && st.Exists {
			cp := *st
			results = append(results, &cp)
		}
		return true
	})
	return results
}

// CurrentRevision returns the revision of the last recorded run.
func (a *Archive) CurrentRevision() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRev
}

// Compact removes entries and runs older than the last keep revisions and
// rebuilds the index from what remains, so it matches a reopened archive.
func (a *Archive) Compact(keep int64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.currentRev - keep
	if cutoff <= 0 {
		return 0, nil
	}

	removed := 0
	index := a.index
	err := a.db.Update(func(tx *bbolt.Tx) error {
		obs := tx.Bucket(bucketObservations)
		var toDelete [][]byte
		err := obs.ForEach(func(k, _ []byte) error {
			if _, rev, ok := parseEntryKey(k); ok && rev <= cutoff {
				toDelete = append(toDelete, bytes.Clone(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := obs.Delete(k); err != nil {
				return err
			}
		}
		removed = len(toDelete)

		runs := tx.Bucket(bucketRuns)
		c := runs.Cursor()
		for k, _ := c.First(); k != nil && bytesToInt64(k) <= cutoff; k, _ = c.First() {
			if err := runs.Delete(k); err != nil {
				return err
			}
		}
		return a.rebuildIndex(tx)
	})
	if err != nil {
		a.index = index
		return 0, err
	}
	return removed, nil
}

func (a *Archive) observe(id, accountID, region string, rev int64) {
	st, ok := a.index.Get(&ServerState{ServerID: id})
	if !ok {
		st = &ServerState{ServerID: id, FirstSeenRev: rev}
	}
	st.AccountID = accountID
	st.Region = region
	st.LastSeenRev = rev
	st.Exists = true
	st.DisappearedRev = 0
	a.index.ReplaceOrInsert(st)
}

func (a *Archive) disappear(id string, rev int64) {
	st, ok := a.index.Get(&ServerState{ServerID: id})
	if !ok {
		st = &ServerState{ServerID: id}
	}
	st.Exists = false
	st.DisappearedRev = rev
	a.index.ReplaceOrInsert(st)
}

// load reads the current revision and rebuilds the index from disk.
func (a *Archive) load() error {
	return a.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRevision); data != nil {
			a.currentRev = bytesToInt64(data)
		}
		return a.rebuildIndex(tx)
	})
}

func newIndex() *btree.BTreeG[*ServerState] {
	return btree.NewG[*ServerState](32, func(x, y *ServerState) bool {
		return x.ServerID < y.ServerID
	})
}

// rebuildIndex replaces the index with the states read from tx.
func (a *Archive) rebuildIndex(tx *bbolt.Tx) error {
	a.index = newIndex()
	return tx.Bucket(bucketObservations).ForEach(func(k, v []byte) error {
		id, rev, ok := parseEntryKey(k)
		if !ok {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("corrupt entry %q: %w", k, err)
		}
		if e.Tombstone || e.Server == nil {
			a.disappear(id, rev)
			return nil
		}
		a.observe(id, e.Server.AccountID, e.Server.Region, rev)
		return nil
	})
}

func putEntry(bucket *bbolt.Bucket, id string, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return bucket.Put(entryKey(id, e.Revision), value)
}

// Entry keys are <id> 0x00 <big-endian revision> so one server's entries
// are contiguous and ordered by revision.
func entryPrefix(id string) []byte {
	return append([]byte(id), 0)
}

func entryKey(id string, rev int64) []byte {
	return append(entryPrefix(id), int64ToBytes(rev)...)
}

func parseEntryKey(k []byte) (string, int64, bool) {
	if len(k) < 9 || k[len(k)-9] != 0 {
		return "", 0, false
	}
	return string(k[:len(k)-9]), bytesToInt64(k[len(k)-8:]), true
}

func int64ToBytes(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func bytesToInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
