package ticketgate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var bucketReplay = []byte("replay")

type replayRecord struct {
	At int64 `cbor:"1,keyasint"` // Unix nanoseconds.
}

// BoltJournal is a Journal stored in a bbolt database. Concurrent Record
// calls are coalesced into shared transactions.
type BoltJournal struct {
	db *bbolt.DB
}

var _ Journal = (*BoltJournal)(nil)

// OpenBoltJournal opens or creates the journal database at path.
func OpenBoltJournal(path string) (*BoltJournal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReplay)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

func (j *BoltJournal) Record(fp Fingerprint, at time.Time) error {
	v, err := cbor.Marshal(replayRecord{At: at.UnixNano()})
	if err != nil {
		return err
	}
	return j.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplay).Put(fp[:], v)
	})
}

// Prune deletes records older than before. Undecodable records are
// deleted too.
func (j *BoltJournal) Prune(before time.Time) (int, error) {
	cutoff := before.UnixNano()
	var stale [][]byte
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplay).ForEach(func(k, v []byte) error {
			var rec replayRecord
			if err := cbor.Unmarshal(v, &rec); err != nil || rec.At < cutoff || len(k) != len(Fingerprint{}) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}
	err = j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReplay)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (j *BoltJournal) Load() ([]ReplayEntry, error) {
	var out []ReplayEntry
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplay).ForEach(func(k, v []byte) error {
			var rec replayRecord
			if len(k) != len(Fingerprint{}) || cbor.Unmarshal(v, &rec) != nil {
				return nil
			}
			var e ReplayEntry
			copy(e.Fingerprint[:], k)
			e.At = time.Unix(0, rec.At)
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// Close closes the database.
func (j *BoltJournal) Close() error {
	return j.db.Close()
}
