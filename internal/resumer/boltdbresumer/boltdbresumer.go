// Package boltdbresumer saves the state of downloads in a bolt database.
// Every download has its own bucket, named by the download ID, under a root bucket.
package boltdbresumer

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/piecemeal/internal/resumer"
	bolt "go.etcd.io/bbolt"
)

// Keys in the bucket of a download.
var Keys = struct {
	InfoHash        []byte
	Name            []byte
	Dest            []byte
	Info            []byte
	Bitfield        []byte
	AddedAt         []byte
	BytesDownloaded []byte
	BytesWasted     []byte
}{
	[]byte("info_hash"),
	[]byte("name"),
	[]byte("dest"),
	[]byte("info"),
	[]byte("bitfield"),
	[]byte("added_at"),
	[]byte("bytes_downloaded"),
	[]byte("bytes_wasted"),
}

// ErrNotFound is returned when there is no saved state for a download.
var ErrNotFound = errors.New("download not found")

// Spec is the saved state of a download.
type Spec struct {
	InfoHash        []byte
	Name            string
	Dest            string
	Info            []byte
	Bitfield        []byte
	AddedAt         time.Time
	BytesDownloaded int64
	BytesWasted     int64
}

// Resumer reads and writes Specs in a root bucket of a bolt database.
type Resumer struct {
	db     *bolt.DB
	bucket []byte
}

var _ resumer.Resumer = (*Resumer)(nil)

// New creates the root bucket if it does not exist.
func New(db *bolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{db: db, bucket: bucket}, nil
}

// Write saves all fields of spec, replacing the previous state.
func (r *Resumer) Write(downloadID string, spec *Spec) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(downloadID))
		if err != nil {
			return err
		}
		return putAll(b, map[string][]byte{
			string(Keys.InfoHash):        spec.InfoHash,
			string(Keys.Name):            []byte(spec.Name),
			string(Keys.Dest):            []byte(spec.Dest),
			string(Keys.Info):            spec.Info,
			string(Keys.Bitfield):        spec.Bitfield,
			string(Keys.AddedAt):         []byte(spec.AddedAt.Format(time.RFC3339)),
			string(Keys.BytesDownloaded): formatInt(spec.BytesDownloaded),
			string(Keys.BytesWasted):     formatInt(spec.BytesWasted),
		})
	})
}

// WriteBitfield updates the completed pieces of a saved download.
// Does nothing if the download is not saved.
func (r *Resumer) WriteBitfield(downloadID string, value []byte) error {
	return r.update(downloadID, map[string][]byte{
		string(Keys.Bitfield): value,
	})
}

// WriteStats updates the counters of a saved download.
// Does nothing if the download is not saved.
func (r *Resumer) WriteStats(downloadID string, s resumer.Stats) error {
	return r.update(downloadID, map[string][]byte{
		string(Keys.BytesDownloaded): formatInt(s.BytesDownloaded),
		string(Keys.BytesWasted):     formatInt(s.BytesWasted),
	})
}

func (r *Resumer) update(downloadID string, values map[string][]byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(downloadID))
		if b == nil {
			return nil
		}
		return putAll(b, values)
	})
}

func putAll(b *bolt.Bucket, values map[string][]byte) error {
	for k, v := range values {
		if v == nil {
			v = []byte{}
		}
		if err := b.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the ID of the download with the info hash.
func (r *Resumer) Find(infoHash []byte) (string, error) {
	var id string
	err := r.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(r.bucket)
		c := root.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			// Nested buckets have nil values.
			if v != nil {
				continue
			}
			if bytes.Equal(root.Bucket(k).Get(Keys.InfoHash), infoHash) {
				id = string(k)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

// Read returns the saved state of the download.
func (r *Resumer) Read(downloadID string) (*Spec, error) {
	var spec Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(downloadID))
		if b == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, downloadID)
		}
		// Values are only valid during the transaction.
		get := func(key []byte) []byte {
			v := b.Get(key)
			if v == nil {
				return nil
			}
			return append([]byte(nil), v...)
		}
		spec.InfoHash = get(Keys.InfoHash)
		if spec.InfoHash == nil {
			return fmt.Errorf("key not found: %q", Keys.InfoHash)
		}
		spec.Name = string(get(Keys.Name))
		spec.Dest = string(get(Keys.Dest))
		spec.Info = get(Keys.Info)
		spec.Bitfield = get(Keys.Bitfield)

		var err error
		if v := get(Keys.AddedAt); v != nil {
			if spec.AddedAt, err = time.Parse(time.RFC3339, string(v)); err != nil {
				return err
			}
		}
		if spec.BytesDownloaded, err = parseInt(get(Keys.BytesDownloaded)); err != nil {
			return err
		}
		spec.BytesWasted, err = parseInt(get(Keys.BytesWasted))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// Delete removes the saved state of the download.
func (r *Resumer) Delete(downloadID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(downloadID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func formatInt(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(string(b), 10, 64)
}
