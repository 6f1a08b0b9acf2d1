package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketStates = []byte("states")
	bucketStatus = []byte("status")
)

// DefaultStatusRetention is the number of status records kept by default.
const DefaultStatusRetention = 500

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db        *bolt.DB
	retention int
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketStates, bucketStatus} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, retention: DefaultStatusRetention}, nil
}

// SetStatusRetention changes how many status records are kept. Values below
// one are ignored.
func (s *BoltStore) SetStatusRetention(n int) {
	if n > 0 {
		s.retention = n
	}
}

func (s *BoltStore) SaveState(state *DeviceState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketStates)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put([]byte(state.DeviceID), data)
	})
}

func (s *BoltStore) GetState(deviceID string) (*DeviceState, error) {
	var state DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketStates)
		}
		data := b.Get([]byte(deviceID))
		if data == nil {
			return fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) DeleteState(deviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketStates)
		}
		return b.Delete([]byte(deviceID))
	})
}

func (s *BoltStore) ListStates() ([]*DeviceState, error) {
	var states []*DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b == nil {
			return nil
		}
		states = make([]*DeviceState, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var st DeviceState
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			states = append(states, &st)
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) UpdateState(deviceID string, fn func(state *DeviceState) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketStates)
		}
		state := DeviceState{DeviceID: deviceID}
		if data := b.Get([]byte(deviceID)); data != nil {
			if err := json.Unmarshal(data, &state); err != nil {
				return err
			}
		}
		if err := fn(&state); err != nil {
			return err
		}
		state.DeviceID = deviceID
		data, err := json.Marshal(&state)
		if err != nil {
			return err
		}
		return b.Put([]byte(deviceID), data)
	})
}

// RecordStatus appends rec to the status log, assigning its sequence number,
// and trims the oldest records beyond the retention limit.
func (s *BoltStore) RecordStatus(rec *StatusRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketStatus)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		c := b.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		excess := count - s.retention
		if excess <= 0 {
			return nil
		}
		var stale [][]byte
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentStatus returns up to limit records, newest first.
func (s *BoltStore) RecentStatus(limit int) ([]*StatusRecord, error) {
	var out []*StatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			var rec StatusRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
