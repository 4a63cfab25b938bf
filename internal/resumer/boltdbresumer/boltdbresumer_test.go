package boltdbresumer

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/piecemeal/internal/resumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newResumer(t *testing.T) *Resumer {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "resume.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r, err := New(db, []byte("downloads"))
	require.NoError(t, err)
	return r
}

func TestWriteRead(t *testing.T) {
	r := newResumer(t)
	addedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	spec := &Spec{
		InfoHash:        []byte("01234567890123456789"),
		Name:            "file.bin",
		Dest:            "/tmp/downloads",
		Info:            []byte("d4:name8:file.bine"),
		Bitfield:        []byte{0x80, 0x00},
		AddedAt:         addedAt,
		BytesDownloaded: 100,
	}
	require.NoError(t, r.Write("id1", spec))

	require.NoError(t, r.WriteBitfield("id1", []byte{0xc0, 0x40}))
	require.NoError(t, r.WriteStats("id1", resumer.Stats{BytesDownloaded: 300, BytesWasted: 7}))

	got, err := r.Read("id1")
	require.NoError(t, err)
	assert.Equal(t, spec.InfoHash, got.InfoHash)
	assert.Equal(t, "file.bin", got.Name)
	assert.Equal(t, "/tmp/downloads", got.Dest)
	assert.Equal(t, spec.Info, got.Info)
	assert.Equal(t, []byte{0xc0, 0x40}, got.Bitfield)
	assert.True(t, addedAt.Equal(got.AddedAt))
	assert.Equal(t, int64(300), got.BytesDownloaded)
	assert.Equal(t, int64(7), got.BytesWasted)

	id, err := r.Find(spec.InfoHash)
	require.NoError(t, err)
	assert.Equal(t, "id1", id)
}

func TestNotFound(t *testing.T) {
	r := newResumer(t)

	_, err := r.Read("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = r.Find([]byte("missing"))
	assert.True(t, errors.Is(err, ErrNotFound))

	// Writes to unknown downloads are ignored.
	assert.NoError(t, r.WriteBitfield("missing", []byte{1}))
	assert.NoError(t, r.WriteStats("missing", resumer.Stats{}))
}

func TestDelete(t *testing.T) {
	r := newResumer(t)
	require.NoError(t, r.Write("id1", &Spec{InfoHash: []byte("x")}))
	require.NoError(t, r.Delete("id1"))
	require.NoError(t, r.Delete("id1"))
	_, err := r.Read("id1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
