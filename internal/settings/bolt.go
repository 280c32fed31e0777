package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/hession/convscope/internal/llm"
)

const endpointsBucket = "endpoints"

// BoltRepository stores endpoints as JSON values in a bbolt file keyed by
// endpoint id. The file is opened per call so several processes can share it.
type BoltRepository struct {
	path   string
	lookup KeyLookup
}

var _ Repository = (*BoltRepository)(nil)

// NewBoltRepository creates a repository at path. lookup may be nil.
func NewBoltRepository(path string, lookup KeyLookup) *BoltRepository {
	return &BoltRepository{path: path, lookup: lookup}
}

// Path returns the bbolt file path
func (r *BoltRepository) Path() string {
	return r.path
}

func (r *BoltRepository) open(timeout time.Duration) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create settings directory")
	}
	db, err := bolt.Open(r.path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open settings file %s", r.path)
	}
	return db, nil
}

// Load returns the saved endpoints merged over DefaultEndpoints. Keys the
// file does not hold are filled from the lookup.
func (r *BoltRepository) Load() ([]llm.Endpoint, error) {
	db, err := r.open(time.Second)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var saved []llm.Endpoint
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(endpointsBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ep llm.Endpoint
			if err := json.Unmarshal(v, &ep); err != nil {
				log.Warn().Err(err).Str("endpoint", string(k)).Msg("skipping malformed endpoint setting")
				return nil
			}
			ep.ID = string(k)
			saved = append(saved, ep)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read endpoint settings")
	}
	return Merge(DefaultEndpoints(), saved, r.lookup), nil
}

// Save replaces the stored endpoints with endpoints. Keys that came from the
// lookup are not written back.
func (r *BoltRepository) Save(endpoints []llm.Endpoint) error {
	db, err := r.open(2 * time.Second)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	err = db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(endpointsBucket)); b != nil {
			if err := tx.DeleteBucket([]byte(endpointsBucket)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(endpointsBucket))
		if err != nil {
			return err
		}
		for _, ep := range endpoints {
			if r.lookup != nil && ep.APIKey != "" && ep.APIKey == r.lookup(ep.ID) {
				ep.APIKey = ""
			}
			enc, err := json.Marshal(ep)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(ep.ID), enc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to save endpoint settings")
	}
	log.Debug().Int("endpoints", len(endpoints)).Msg("endpoint settings saved")
	return nil
}

// Reset removes every saved setting.
func (r *BoltRepository) Reset() error {
	db, err := r.open(2 * time.Second)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(endpointsBucket)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(endpointsBucket))
	})
	return errors.Wrap(err, "failed to reset endpoint settings")
}
