package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/clustermaster/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAdmitted    = []byte("admitted_agents")
	bucketUnreachable = []byte("unreachable_agents")
)

// BoltStore persists registry State to a local BoltDB file, one bucket per
// list (admitted, unreachable). It is the durable backing store the raft
// FSM reads from and writes through.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "registry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAdmitted, bucketUnreachable} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load reads the full durable State back from disk, for use on startup.
func (s *BoltStore) Load() (*State, error) {
	state := NewState()

	err := s.db.View(func(tx *bolt.Tx) error {
		admitted := tx.Bucket(bucketAdmitted)
		if err := admitted.ForEach(func(k, v []byte) error {
			var info types.AgentInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			state.Admitted[types.AgentID(k)] = info
			return nil
		}); err != nil {
			return err
		}

		unreachable := tx.Bucket(bucketUnreachable)
		return unreachable.ForEach(func(k, v []byte) error {
			var at time.Time
			if err := json.Unmarshal(v, &at); err != nil {
				return err
			}
			state.Unreachable[types.AgentID(k)] = at
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	return state, nil
}

// Persist overwrites the on-disk buckets with the full contents of state.
// Called by the FSM after every committed Apply and on snapshot restore; the
// registry is small (bounded by live + recently-unreachable agent counts) so
// a full rewrite per commit is simpler and safer than incremental diffs.
func (s *BoltStore) Persist(state *State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := clearBucket(tx, bucketAdmitted); err != nil {
			return err
		}
		admitted := tx.Bucket(bucketAdmitted)
		for id, info := range state.Admitted {
			data, err := json.Marshal(info)
			if err != nil {
				return err
			}
			if err := admitted.Put([]byte(id), data); err != nil {
				return err
			}
		}

		if err := clearBucket(tx, bucketUnreachable); err != nil {
			return err
		}
		unreachable := tx.Bucket(bucketUnreachable)
		for id, at := range state.Unreachable {
			data, err := json.Marshal(at)
			if err != nil {
				return err
			}
			if err := unreachable.Put([]byte(id), data); err != nil {
				return err
			}
		}

		return nil
	})
}

func clearBucket(tx *bolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucket(name)
	return err
}
