package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketProfiles = []byte("profiles")
	bucketReadings = []byte("readings")
	bucketGateway  = []byte("gateway")
	keyGwState     = []byte("state")
)

// defaultReadingCap caps the reading log; the oldest entries are pruned
// when an append would exceed it.
const defaultReadingCap = 10000

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db         *bolt.DB
	readingCap int
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketProfiles, bucketReadings, bucketGateway} {
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

	return &BoltStore{db: db, readingCap: defaultReadingCap}, nil
}

func (s *BoltStore) SaveProfile(p *Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProfiles)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.Name), data)
	})
}

func (s *BoltStore) GetProfile(name string) (*Profile, error) {
	var p Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProfiles)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("profile %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) DeleteProfile(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProfiles)
		}
		return b.Delete([]byte(name))
	})
}

func (s *BoltStore) ListProfiles() ([]*Profile, error) {
	var profiles []*Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProfiles)
		}
		return b.ForEach(func(_, v []byte) error {
			var p Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			profiles = append(profiles, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *BoltStore) UpdateProfile(name string, fn func(p *Profile) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProfiles)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("profile %s: %w", name, ErrNotFound)
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()
		updated, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), updated)
	})
}

func (s *BoltStore) AppendReading(r *Reading) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReadings)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketReadings)
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		// RFC3339Nano keys keep the bucket time-ordered.
		if err := b.Put([]byte(r.Timestamp.Format(time.RFC3339Nano)), data); err != nil {
			return err
		}
		// Prune oldest entries beyond the cap. Deleting through the
		// cursor keeps its position defined while iterating.
		excess := b.Stats().KeyN + 1 - s.readingCap
		if excess > 0 {
			c := b.Cursor()
			for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
				excess--
			}
		}
		return nil
	})
}

func (s *BoltStore) ListReadings(limit int) ([]*Reading, error) {
	var readings []*Reading
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReadings)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketReadings)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(readings) >= limit {
				break
			}
			var r Reading
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			readings = append(readings, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readings, nil
}

func (s *BoltStore) SaveGatewayState(state *GatewayState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGateway)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGateway)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put(keyGwState, data)
	})
}

func (s *BoltStore) GetGatewayState() (*GatewayState, error) {
	var state GatewayState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGateway)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGateway)
		}
		data := b.Get(keyGwState)
		if data == nil {
			return fmt.Errorf("gateway state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
