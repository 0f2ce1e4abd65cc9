package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// Bucket names
var (
	MetaBucket = []byte("meta")
	OpsBucket  = []byte("ops")
)

// Meta keys
var (
	MetaVersion = []byte("version")
	MetaCreated = []byte("created")
)

// DefaultLockTimeout is how long Open waits for another freedisk process.
const DefaultLockTimeout = 2 * time.Second

var (
	ErrBusy         = errors.New("another freedisk command is running")
	ErrUnknownEntry = errors.New("no such journal entry")
)

// Kind names a journaled operation
type Kind string

const (
	KindNew    Kind = "new"
	KindAdd    Kind = "add"
	KindAttach Kind = "attach"
	KindDel    Kind = "del"
)

// Entry is an operation that has started but not completed
type Entry struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Disk    string    `json:"disk"`
	Step    string    `json:"step"`
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
}

// Journal provides BBolt-based operation records
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal at path, waiting up to timeout for the
// file lock held by another process.
func Open(path string, timeout time.Duration) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w (lock held on %s)", ErrBusy, path)
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the database and its lock
func (j *Journal) Close() error {
	return j.db.Close()
}

// initialize creates the bucket structure on first use
func (j *Journal) initialize() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{MetaBucket, OpsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(MetaBucket)
		if meta.Get(MetaVersion) != nil {
			return nil
		}
		if err := meta.Put(MetaVersion, []byte("1")); err != nil {
			return err
		}
		created, _ := time.Now().MarshalBinary()
		return meta.Put(MetaCreated, created)
	})
}

// Begin records the start of an operation and returns its ID
func (j *Journal) Begin(kind Kind, disk string) (string, error) {
	now := time.Now()
	entry := Entry{
		ID:      uuid.NewString(),
		Kind:    kind,
		Disk:    disk,
		Step:    "started",
		Started: now,
		Updated: now,
	}
	if err := j.put(entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Advance records that the operation reached step
func (j *Journal) Advance(id, step string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket(OpsBucket)
		data := ops.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.Step = step
		entry.Updated = time.Now()

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return ops.Put([]byte(id), data)
	})
}

// Complete removes a finished operation
func (j *Journal) Complete(id string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(OpsBucket).Delete([]byte(id))
	})
}

// Pending returns interrupted operations, oldest first
func (j *Journal) Pending() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(OpsBucket).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Started.Before(entries[b].Started)
	})
	return entries, nil
}

// ClearDisk drops every pending entry for disk and returns how many were removed
func (j *Journal) ClearDisk(disk string) (int, error) {
	removed := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket(OpsBucket)
		var ids [][]byte
		err := ops.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Disk == disk {
				ids = append(ids, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := ops.Delete(id); err != nil {
				return err
			}
		}
		removed = len(ids)
		return nil
	})
	return removed, err
}

func (j *Journal) put(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(OpsBucket).Put([]byte(entry.ID), data)
	})
}
