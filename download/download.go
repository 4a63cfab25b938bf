// Package download ties the piece picker to the piece store for downloading a single torrent into a flat file.
//
// A Download does not talk to peers. The peer protocol layer calls Next to get a piece to request from a peer,
// WriteBlock for every block received and Retry when it gives up on a piece.
package download

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/logger"
	"github.com/cenkalti/piecemeal/internal/metainfo"
	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/cenkalti/piecemeal/internal/piecepicker"
	"github.com/cenkalti/piecemeal/internal/piecestore"
	"github.com/cenkalti/piecemeal/internal/resumer"
	"github.com/cenkalti/piecemeal/internal/resumer/boltdbresumer"
	"github.com/cenkalti/piecemeal/internal/storage/filestorage"
	"github.com/cenkalti/piecemeal/internal/verifier"
	"github.com/cenkalti/piecemeal/internal/worker"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	bolt "go.etcd.io/bbolt"
)

var downloadsBucket = []byte("downloads")

// Download is a single torrent being downloaded into DataDir.
type Download struct {
	config Config
	clock  clock.Clock
	log    logger.Logger

	id      string
	addedAt time.Time
	info    *metainfo.Info
	pieces  []piece.Piece

	store   *piecestore.Store
	picker  *piecepicker.PiecePicker
	db      *bolt.DB
	resumer *boltdbresumer.Resumer
	metrics *downloadMetrics
	rpc     *rpcServer
	workers worker.Workers

	// Accessed atomically.
	bytesDownloaded int64
	bytesWasted     int64

	doneC    chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

// Open reads the torrent file at path and starts a Download for it.
func Open(path string, cfg Config) (*Download, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f, cfg)
}

// NewReader reads a torrent from r and starts a Download for it.
func NewReader(r io.Reader, cfg Config) (*Download, error) {
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, err
	}
	return New(&mi.Info, cfg)
}

// New starts a Download for the torrent described by info.
// The output file is created in cfg.DataDir, or reused if it already exists.
func New(info *metainfo.Info, cfg Config) (*Download, error) {
	return newDownload(info, cfg, clock.New())
}

func newDownload(info *metainfo.Info, cfg Config, clk clock.Clock) (_ *Download, err error) {
	if err = cfg.expandPaths(); err != nil {
		return nil, err
	}
	d := &Download{
		config:  cfg,
		clock:   clk,
		log:     logger.New("download " + info.Name),
		addedAt: clk.Now(),
		info:    info,
		pieces:  piece.NewPieces(info),
		doneC:   make(chan struct{}),
	}
	sto, err := filestorage.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	store, exists, err := piecestore.New(sto, info.Name, d.pieces, info.PieceLength, info.TotalLength)
	if err != nil {
		return nil, err
	}
	d.store = store
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	restored := false
	if cfg.ResumeEnabled {
		restored, err = d.openResumer(exists)
		if err != nil {
			return nil, err
		}
	} else {
		d.id = newID()
	}
	if exists && !restored && cfg.VerifyOnStart {
		if err = d.verify(); err != nil {
			return nil, err
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	finished := store.Bitfield()
	d.picker = piecepicker.New(d.pieces, info.TotalLength, piecepicker.Options{
		Rand:         rand.New(rand.NewSource(seed)), // nolint: gosec
		Clock:        clk,
		StallTimeout: cfg.StallTimeout,
		Finished:     finished,
		OnComplete:   d.onComplete,
		OnRetry:      d.store.Reset,
	})
	d.metrics = newMetrics(d)
	if finished.All() {
		d.markDone()
	}

	if cfg.StallTimeout > 0 && cfg.StallCheckInterval > 0 {
		d.workers.Start(&worker.Periodic{
			Interval: cfg.StallCheckInterval,
			Clock:    clk,
			Func:     d.expireStalled,
		})
	}
	if cfg.RPCEnabled {
		d.rpc = newRPCServer(d)
		if err = d.rpc.Start(cfg.RPCHost, cfg.RPCPort); err != nil {
			return nil, err
		}
	}
	d.log.Infof("started, %d of %d pieces on disk", finished.Count(), finished.Len())
	return d, nil
}

func newID() string {
	u, err := uuid.NewV4()
	if err != nil {
		// Fall back to the process clock if the system random source fails.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return u.String()
}

// openResumer opens the resume database, finds the saved state of the torrent and restores it into the store.
// A new record is saved if the torrent is not known.
func (d *Download) openResumer(fileExists bool) (restored bool, err error) {
	if err = os.MkdirAll(filepath.Dir(d.config.Database), 0750); err != nil {
		return false, err
	}
	d.db, err = bolt.Open(d.config.Database, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return false, errors.New("resume database is locked by another process")
	} else if err != nil {
		return false, err
	}
	d.resumer, err = boltdbresumer.New(d.db, downloadsBucket)
	if err != nil {
		return false, err
	}
	id, err := d.resumer.Find(d.info.Hash[:])
	if errors.Is(err, boltdbresumer.ErrNotFound) {
		d.id = newID()
		return false, d.resumer.Write(d.id, &boltdbresumer.Spec{
			InfoHash: d.info.Hash[:],
			Name:     d.info.Name,
			Dest:     d.config.DataDir,
			Info:     d.info.Bytes,
			Bitfield: bitfield.New(d.info.NumPieces).Bytes(),
			AddedAt:  d.addedAt,
		})
	}
	if err != nil {
		return false, err
	}
	d.id = id
	spec, err := d.resumer.Read(id)
	if err != nil {
		return false, err
	}
	d.addedAt = spec.AddedAt
	atomic.StoreInt64(&d.bytesDownloaded, spec.BytesDownloaded)
	atomic.StoreInt64(&d.bytesWasted, spec.BytesWasted)
	if !fileExists {
		// Saved bits are meaningless for a newly created file.
		d.log.Warningln("output file is missing, discarding resume data")
		return false, d.resumer.WriteBitfield(d.id, bitfield.New(d.info.NumPieces).Bytes())
	}
	bf, err := bitfield.NewBytes(spec.Bitfield, d.info.NumPieces)
	if err != nil {
		return false, fmt.Errorf("invalid resume data: %w", err)
	}
	d.store.Restore(bf)
	d.log.Debugf("restored %d pieces from resume data", bf.Count())
	return true, nil
}

// verify checks the digests of the pieces in an existing output file.
func (d *Download) verify() error {
	d.log.Info("verifying existing data")
	v := verifier.New()
	resultC := make(chan *verifier.Verifier, 1)
	v.Run(d.store, nil, resultC)
	res := <-resultC
	if res.Error != nil {
		return res.Error
	}
	d.store.Restore(res.Bitfield)
	d.log.Infof("verified, %d of %d pieces are valid", res.Bitfield.Count(), res.Bitfield.Len())
	if d.resumer != nil {
		return d.resumer.WriteBitfield(d.id, res.Bitfield.Bytes())
	}
	return nil
}

// ID is the identifier of the download in the resume database.
func (d *Download) ID() string {
	return d.id
}

// Info returns the torrent info of the download.
func (d *Download) Info() *metainfo.Info {
	return d.info
}

// Next returns the piece that should be downloaded next from the peer.
// available is the set of pieces that the peer has.
// Returns nil if there is nothing to download from the peer.
func (d *Download) Next(peerID string, available *bitfield.Bitfield) *piece.Piece {
	pi := d.picker.Next(peerID, available)
	if pi != nil {
		d.picker.NotifyDemand(peerID)
	}
	return pi
}

// NotifyDemand records that a peer has requested or supplied a piece.
func (d *Download) NotifyDemand(peerID string) {
	d.picker.NotifyDemand(peerID)
}

// Demand returns the number of times the peer is seen by NotifyDemand.
func (d *Download) Demand(peerID string) int {
	return d.picker.Demand(peerID)
}

// Retry gives back a piece that was returned to the peer from Next, after a failed download.
// Blocks already written for the piece are discarded and the piece is returned from Next again before any other piece.
// Returns false, leaving the piece and its blocks untouched, if the piece is not assigned to the peer.
func (d *Download) Retry(peerID string, index uint32) bool {
	return d.picker.Retry(peerID, index)
}

// WriteBlock saves a block received from a peer.
// done is true if the block completed the piece and the piece is verified.
// A piece that fails verification is put back for a retry and an error wrapping piecestore.ErrCorruptPiece is returned.
func (d *Download) WriteBlock(index, begin uint32, data []byte) (done bool, err error) {
	done, err = d.store.WriteBlock(index, begin, data)
	if errors.Is(err, piecestore.ErrPieceComplete) {
		return false, nil
	}
	if err == nil || errors.Is(err, piecestore.ErrCorruptPiece) {
		atomic.AddInt64(&d.bytesDownloaded, int64(len(data)))
		d.metrics.WritesPerSecond.Mark(1)
	}
	if errors.Is(err, piecestore.ErrCorruptPiece) {
		d.log.Errorf("piece #%d failed hash check", index)
		atomic.AddInt64(&d.bytesWasted, int64(d.pieces[index].Length))
		d.picker.Requeue(index)
		return false, err
	}
	if err != nil || !done {
		return
	}
	d.picker.Finish(index)
	if d.resumer != nil {
		if err = d.resumer.WriteBitfield(d.id, d.store.Bitfield().Bytes()); err != nil {
			d.log.Errorln("cannot save bitfield:", err)
			err = nil
		}
	}
	if d.picker.Done() {
		d.markDone()
	}
	return true, nil
}

// ReadBlock reads length bytes at offset begin of the piece at index.
// Data of a piece that is being written at the same time may be incomplete.
func (d *Download) ReadBlock(index, begin, length uint32) ([]byte, error) {
	return d.store.ReadPiece(index, begin, length)
}

// Bitfield returns the set of pieces that are written and verified.
func (d *Download) Bitfield() *bitfield.Bitfield {
	return d.store.Bitfield()
}

// Completed returns a channel that is closed when all pieces are written and verified.
func (d *Download) Completed() <-chan struct{} {
	return d.doneC
}

func (d *Download) markDone() {
	d.doneOnce.Do(func() {
		d.log.Info("all pieces are verified")
		close(d.doneC)
	})
}

// onComplete is called by the picker, with its lock held, when no piece is left to give out.
func (d *Download) onComplete(s piecepicker.Stats) {
	d.log.Debugf("no piece left to pick, %d assigned pieces are in progress", s.Assigned)
}

func (d *Download) expireStalled() {
	for _, i := range d.picker.ExpireStalled() {
		d.log.Debugf("piece #%d is stalled, returned to pending", i)
	}
}

// Close stops the download and releases the output file and the resume database.
// It is safe to call Close more than once.
func (d *Download) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.close()
	})
	return d.closeErr
}

func (d *Download) close() error {
	var result error
	if d.rpc != nil {
		if err := d.rpc.Stop(5 * time.Second); err != nil {
			result = multierror.Append(result, err)
		}
	}
	d.workers.Stop()
	if d.metrics != nil {
		d.metrics.Close()
	}
	if err := d.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if d.resumer != nil {
		err := d.resumer.WriteStats(d.id, resumer.Stats{
			BytesDownloaded: atomic.LoadInt64(&d.bytesDownloaded),
			BytesWasted:     atomic.LoadInt64(&d.bytesWasted),
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// BitfieldHex returns the completion bitfield in hex, as sent to peers.
func (d *Download) BitfieldHex() string {
	return d.store.Bitfield().Hex()
}
