package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/piecemeal/download"
	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/logger"
	"github.com/cenkalti/piecemeal/internal/metainfo"
	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/cenkalti/piecemeal/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAvailability(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	avail := newAvailability(rnd, 50, 4, 0.1)
	require.Len(t, avail, 4)
	union := bitfield.New(50)
	for _, bf := range avail {
		assert.Equal(t, uint32(50), bf.Len())
		union.Or(bf)
	}
	assert.True(t, union.All())
}

func TestSimulatedPeers(t *testing.T) {
	const pieceLength = 2*piece.BlockSize + 123
	data := make([]byte, 9*pieceLength+77)
	rand.New(rand.NewSource(4)).Read(data)

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.bin")
	require.NoError(t, os.WriteFile(seedPath, data, 0600))

	b, err := metainfo.NewInfoBytes("file.bin", bytes.NewReader(data), int64(len(data)), pieceLength)
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)

	cfg := download.DefaultConfig
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.ResumeEnabled = false
	cfg.Seed = 5
	cfg.StallTimeout = 0
	d, err := download.New(info, cfg)
	require.NoError(t, err)
	defer d.Close()

	seed, err := openFileReader(seedPath, info)
	require.NoError(t, err)
	defer seed.Close()

	rnd := rand.New(rand.NewSource(6))
	avail := newAvailability(rnd, info.NumPieces, 3, 0.5)
	var workers worker.Workers
	for i := range avail {
		workers.Start(&simulatedPeer{
			id:        string(rune('a' + i)),
			available: avail[i],
			download:  d,
			seed:      seed,
			corrupt:   0.1,
			rnd:       rand.New(rand.NewSource(int64(i))),
			log:       logger.New("test peer"),
		})
	}
	select {
	case <-d.Completed():
	case <-time.After(10 * time.Second):
		t.Fatal("download is not completed")
	}
	workers.Stop()

	s := d.Stats()
	assert.True(t, s.Done)
	assert.Equal(t, s.Bytes.Total+s.Bytes.Wasted, s.Bytes.Downloaded)
	require.NoError(t, d.Close())

	got, err := os.ReadFile(filepath.Join(cfg.DataDir, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileReaderSizeMismatch(t *testing.T) {
	data := make([]byte, 1000)
	b, err := metainfo.NewInfoBytes("file.bin", bytes.NewReader(data), int64(len(data)), 0)
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, data[:999], 0600))
	_, err = openFileReader(path, info)
	assert.Error(t, err)
}
