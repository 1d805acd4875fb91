package raid

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

var (
	simBucket = []byte("raid_config_snapshot")
	simKey    = []byte("state")
)

// SimState is the serialised simulator model: arrays, the free pool, and
// the per-array member size.
type SimState struct {
	Arrays     []types.RaidArray `json:"arrays"`
	Free       map[string]int64  `json:"free"`
	MemberSize map[string]int64  `json:"memberSize"`
	SavedAt    time.Time         `json:"savedAt"`
}

// SimStore persists the simulator model to a bbolt file so dev-mode arrays
// survive a restart.
type SimStore struct {
	db *bolt.DB
}

// OpenSimStore opens (creating if needed) the snapshot file at path.
func OpenSimStore(path string) (*SimStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, "raid.OpenSimStore")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(simBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errdefs.Wrap(err, errdefs.KindIO, "raid.OpenSimStore")
	}
	return &SimStore{db: db}, nil
}

// Save replaces the stored snapshot.
func (s *SimStore) Save(state SimState) error {
	const op = "raid.SimStore.Save"

	state.SavedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindBug, op)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(simBucket).Put(simKey, data)
	})
	return errdefs.Wrap(err, errdefs.KindIO, op)
}

// Load returns the stored snapshot; ok is false when none has been saved.
func (s *SimStore) Load() (SimState, bool, error) {
	const op = "raid.SimStore.Load"

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(simBucket).Get(simKey); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return SimState{}, false, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if raw == nil {
		return SimState{}, false, nil
	}

	var state SimState
	if err := json.Unmarshal(raw, &state); err != nil {
		return SimState{}, false, errdefs.Wrap(err, errdefs.KindCorrupted, op)
	}
	return state, true, nil
}

// Close releases the underlying file.
func (s *SimStore) Close() error {
	return s.db.Close()
}
