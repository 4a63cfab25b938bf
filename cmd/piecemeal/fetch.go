package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/cenkalti/piecemeal/download"
	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/jsonutil"
	"github.com/cenkalti/piecemeal/internal/logger"
	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/cenkalti/piecemeal/internal/piecestore"
	"github.com/cenkalti/piecemeal/internal/worker"
	"github.com/juju/ratelimit"
	"github.com/urfave/cli"
)

var errStopped = errors.New("peer stopped")

func handleFetch(c *cli.Context) error {
	cfg, err := download.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if dest := c.String("dest"); dest != "" {
		cfg.DataDir = dest
	}
	if c.Bool("rpc") {
		cfg.RPCEnabled = true
	}
	numPeers := c.Int("peers")
	if numPeers <= 0 {
		return errors.New("number of peers must be positive")
	}
	if c.String("seed") == "" {
		return errors.New("seed file is required")
	}

	d, err := download.Open(c.Args().Get(0), *cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	seed, err := openFileReader(c.String("seed"), d.Info())
	if err != nil {
		return err
	}
	defer seed.Close()

	var bucket *ratelimit.Bucket
	if rate := c.Int("rate"); rate > 0 {
		bucket = ratelimit.NewBucketWithRate(float64(rate), int64(rate))
	}
	rndSeed := cfg.Seed
	if rndSeed == 0 {
		rndSeed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(rndSeed)) // nolint: gosec
	avail := newAvailability(rnd, d.Info().NumPieces, numPeers, c.Float64("availability"))

	var workers worker.Workers
	for i := 0; i < numPeers; i++ {
		workers.Start(&simulatedPeer{
			id:        fmt.Sprintf("peer-%d", i),
			available: avail[i],
			download:  d,
			seed:      seed,
			bucket:    bucket,
			corrupt:   c.Float64("corrupt"),
			rnd:       rand.New(rand.NewSource(rnd.Int63())), // nolint: gosec
			log:       logger.New(fmt.Sprintf("peer-%d", i)),
		})
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	select {
	case <-d.Completed():
	case s := <-sigC:
		mainLog.Infof("received %s, stopping", s)
	}
	workers.Stop()
	return printSummary(d, numPeers)
}

// newAvailability returns the pieces that each peer has.
// Every piece is given to at least one peer.
func newAvailability(rnd *rand.Rand, numPieces uint32, numPeers int, p float64) []*bitfield.Bitfield {
	avail := make([]*bitfield.Bitfield, numPeers)
	for i := range avail {
		avail[i] = bitfield.New(numPieces)
		for j := uint32(0); j < numPieces; j++ {
			if rnd.Float64() < p {
				avail[i].Set(j)
			}
		}
	}
	union := bitfield.New(numPieces)
	for _, bf := range avail {
		union.Or(bf)
	}
	for j := uint32(0); j < numPieces; j++ {
		if !union.Test(j) {
			avail[rnd.Intn(numPeers)].Set(j)
		}
	}
	return avail
}

type summary struct {
	Name          string
	Pieces        int
	Done          bool
	Downloaded    int64
	Wasted        int64
	Elapsed       string
	AverageSpeed  string
	Bitfield      string
	PeerDemand    map[string]int
	PendingPieces int
}

func printSummary(d *download.Download, numPeers int) error {
	s := d.Stats()
	demand := make(map[string]int)
	for i := 0; i < numPeers; i++ {
		id := fmt.Sprintf("peer-%d", i)
		if n := d.Demand(id); n > 0 {
			demand[id] = n
		}
	}
	b, err := jsonutil.MarshalCompactPretty(summary{
		Name:          s.Name,
		Pieces:        s.Pieces.Total,
		Done:          s.Done,
		Downloaded:    s.Bytes.Downloaded,
		Wasted:        s.Bytes.Wasted,
		Elapsed:       s.Elapsed.Round(time.Millisecond).String(),
		AverageSpeed:  fmt.Sprintf("%.0f B/s", s.AverageSpeed),
		Bitfield:      d.BitfieldHex(),
		PeerDemand:    demand,
		PendingPieces: s.Pieces.Pending,
	})
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

// simulatedPeer serves pieces from a local copy of the data.
type simulatedPeer struct {
	id        string
	available *bitfield.Bitfield
	download  *download.Download
	seed      *fileReader
	bucket    *ratelimit.Bucket
	corrupt   float64
	rnd       *rand.Rand
	log       logger.Logger
}

func (p *simulatedPeer) Run(stopC chan struct{}) {
	for {
		pi := p.download.Next(p.id, p.available)
		if pi == nil {
			select {
			case <-p.download.Completed():
				return
			case <-stopC:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		err := p.downloadPiece(pi, stopC)
		switch {
		case err == nil:
		case errors.Is(err, piecestore.ErrCorruptPiece):
			p.log.Debugf("sent corrupt data for piece #%d", pi.Index)
		case errors.Is(err, errStopped):
			p.download.Retry(p.id, pi.Index)
			return
		default:
			p.log.Errorf("cannot download piece #%d: %s", pi.Index, err)
			p.download.Retry(p.id, pi.Index)
		}
	}
}

func (p *simulatedPeer) downloadPiece(pi *piece.Piece, stopC chan struct{}) error {
	for _, b := range pi.Blocks {
		if p.bucket != nil {
			select {
			case <-time.After(p.bucket.Take(int64(b.Length))):
			case <-stopC:
				return errStopped
			}
		}
		var data []byte
		read := func() error {
			var err error
			data, err = p.seed.ReadPiece(pi.Index, b.Begin, b.Length)
			return err
		}
		if err := backoff.Retry(read, newBackOff()); err != nil {
			return err
		}
		if p.corrupt > 0 && p.rnd.Float64() < p.corrupt {
			data[0] ^= 0xff
		}
		write := func() error {
			_, err := p.download.WriteBlock(pi.Index, b.Begin, data)
			var serr *piecestore.StorageError
			if err != nil && !errors.As(err, &serr) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := backoff.Retry(write, newBackOff()); err != nil {
			return err
		}
	}
	return nil
}

func newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	return backoff.WithMaxRetries(bo, 3)
}
