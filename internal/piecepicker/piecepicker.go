// Package piecepicker implements the piece selection for downloading from peers.
package piecepicker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/logger"
	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/google/btree"
)

/*

Every piece is in exactly one of these states:

  needed   -> not downloaded yet, can be picked for any peer that has it
  assigned -> returned from Next, the caller is downloading it
  pending  -> download failed or stalled, returned from Next before any needed piece
  finished -> written to disk and hash checked

needed -> assigned -> finished
             |
             +-> pending -> assigned

*/

type state uint8

const (
	needed state = iota
	assigned
	pending
	finished
)

// PiecePicker decides which piece to download next from a peer.
// All methods are safe for concurrent use.
type PiecePicker struct {
	pieces       []piece.Piece
	totalLength  int64
	clock        clock.Clock
	stallTimeout time.Duration
	onComplete   func(Stats)
	onRetry      func(index uint32)
	log          logger.Logger

	m sync.Mutex

	states []state

	// Pieces that are not picked yet, in random order.
	needed []*neededPiece

	// Pieces waiting for a retry, oldest first.
	pending    *btree.BTreeG[pendingItem]
	pendingSeq []uint64
	nextSeq    uint64

	assigned    map[uint32]assignment
	numFinished int

	demand map[string]int

	startedAt   time.Time
	completedAt time.Time
	complete    bool
}

type neededPiece struct {
	index    uint32
	requests int
}

type pendingItem struct {
	seq   uint64
	index uint32
}

type assignment struct {
	peer string
	at   time.Time
}

// Options for New.
type Options struct {
	// Rand shuffles the initial order of pieces. A time seeded generator is used if nil.
	Rand *rand.Rand
	// Clock is used for measuring download time and stalls. Defaults to the real clock.
	Clock clock.Clock
	// StallTimeout is the duration after which an assigned piece is considered stalled. Zero disables.
	StallTimeout time.Duration
	// Finished marks pieces that are already on disk.
	Finished *bitfield.Bitfield
	// OnComplete is called once, with the lock held, when there is no piece left to pick.
	OnComplete func(Stats)
	// OnRetry is called, with the lock held, when a piece enters the pending pool.
	// It runs before the piece can be returned from Next again.
	OnRetry func(index uint32)
}

// New returns a new PiecePicker.
func New(pieces []piece.Piece, totalLength int64, opt Options) *PiecePicker {
	if opt.Rand == nil {
		opt.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) // nolint: gosec
	}
	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	p := &PiecePicker{
		pieces:       pieces,
		totalLength:  totalLength,
		clock:        opt.Clock,
		stallTimeout: opt.StallTimeout,
		onComplete:   opt.OnComplete,
		onRetry:      opt.OnRetry,
		log:          logger.New("piecepicker"),
		states:       make([]state, len(pieces)),
		needed:       make([]*neededPiece, 0, len(pieces)),
		pending:      btree.NewG[pendingItem](2, func(a, b pendingItem) bool { return a.seq < b.seq }),
		pendingSeq:   make([]uint64, len(pieces)),
		assigned:     make(map[uint32]assignment),
		demand:       make(map[string]int),
		startedAt:    opt.Clock.Now(),
	}
	for i := range pieces {
		if opt.Finished != nil && opt.Finished.Test(uint32(i)) {
			p.states[i] = finished
			p.numFinished++
			continue
		}
		p.needed = append(p.needed, &neededPiece{index: uint32(i)})
	}
	opt.Rand.Shuffle(len(p.needed), func(i, j int) {
		p.needed[i], p.needed[j] = p.needed[j], p.needed[i]
	})
	return p
}

// Next returns the piece to download from the peer with the given availability.
// A piece waiting for a retry is returned first, even if the peer does not have it.
// Otherwise the least requested needed piece that the peer has is returned.
// Returns nil if there is nothing to download from the peer right now;
// Complete tells whether the download is over.
func (p *PiecePicker) Next(peerID string, available *bitfield.Bitfield) *piece.Piece {
	p.m.Lock()
	defer p.m.Unlock()

	if item, ok := p.pending.DeleteMin(); ok {
		p.assign(item.index, peerID)
		return &p.pieces[item.index]
	}
	if len(p.needed) == 0 {
		p.markComplete()
		return nil
	}
	if available == nil {
		return nil
	}
	pick := -1
	for i, np := range p.needed {
		if np.index >= available.Len() || !available.Test(np.index) {
			continue
		}
		if pick == -1 || np.requests < p.needed[pick].requests {
			pick = i
		}
	}
	if pick == -1 {
		return nil
	}
	index := p.needed[pick].index
	p.needed = append(p.needed[:pick], p.needed[pick+1:]...)
	p.assign(index, peerID)
	return &p.pieces[index]
}

func (p *PiecePicker) assign(index uint32, peerID string) {
	p.states[index] = assigned
	p.assigned[index] = assignment{peer: peerID, at: p.clock.Now()}
}

func (p *PiecePicker) markComplete() {
	if p.complete {
		return
	}
	p.complete = true
	p.completedAt = p.clock.Now()
	stats := p.stats()
	p.log.Infof("download finished in %s, average speed: %s/s", stats.Elapsed.Round(time.Millisecond), formatSize(stats.AverageSpeed))
	if p.onComplete != nil {
		p.onComplete(stats)
	}
}

// Request increments the outstanding request counter of a needed piece.
func (p *PiecePicker) Request(index uint32) {
	p.m.Lock()
	defer p.m.Unlock()
	if np := p.findNeeded(index); np != nil {
		np.requests++
	}
}

// CancelRequest decrements the outstanding request counter of a needed piece.
func (p *PiecePicker) CancelRequest(index uint32) {
	p.m.Lock()
	defer p.m.Unlock()
	if np := p.findNeeded(index); np != nil && np.requests > 0 {
		np.requests--
	}
}

func (p *PiecePicker) findNeeded(index uint32) *neededPiece {
	if index >= uint32(len(p.states)) || p.states[index] != needed {
		return nil
	}
	for _, np := range p.needed {
		if np.index == index {
			return np
		}
	}
	return nil
}

// Retry puts a piece assigned to the peer into the pending pool after a failed or aborted download.
// Returns false if the piece is not assigned to the peer, for example
// because it has stalled and was given to another peer in the meantime.
func (p *PiecePicker) Retry(peerID string, index uint32) bool {
	p.m.Lock()
	defer p.m.Unlock()
	if index >= uint32(len(p.states)) || p.states[index] != assigned {
		return false
	}
	if a := p.assigned[index]; a.peer != peerID {
		p.log.Debugf("ignoring retry of piece #%d from %s, assigned to %s", index, peerID, a.peer)
		return false
	}
	p.retry(index)
	return true
}

// Requeue puts an assigned piece into the pending pool no matter which peer holds it.
// It is used when the data received for the piece is lost, so the current assignment cannot complete it.
// Returns false if the piece is not assigned.
func (p *PiecePicker) Requeue(index uint32) bool {
	p.m.Lock()
	defer p.m.Unlock()
	if index >= uint32(len(p.states)) || p.states[index] != assigned {
		return false
	}
	p.retry(index)
	return true
}

func (p *PiecePicker) retry(index uint32) {
	delete(p.assigned, index)
	p.states[index] = pending
	p.nextSeq++
	p.pendingSeq[index] = p.nextSeq
	p.pending.ReplaceOrInsert(pendingItem{seq: p.nextSeq, index: index})
	if p.onRetry != nil {
		p.onRetry(index)
	}
}

// Finish moves a piece to the finished pool.
// It must be called only after the piece is written and its hash is verified.
// Returns false if the piece was already finished.
func (p *PiecePicker) Finish(index uint32) bool {
	p.m.Lock()
	defer p.m.Unlock()
	if index >= uint32(len(p.states)) {
		return false
	}
	switch p.states[index] {
	case finished:
		return false
	case assigned:
		delete(p.assigned, index)
	case pending:
		p.pending.Delete(pendingItem{seq: p.pendingSeq[index], index: index})
	case needed:
		for i, np := range p.needed {
			if np.index == index {
				p.needed = append(p.needed[:i], p.needed[i+1:]...)
				break
			}
		}
	}
	p.states[index] = finished
	p.numFinished++
	return true
}

// ExpireStalled moves pieces that have been assigned for longer than the stall timeout to the pending pool.
// Returns the indexes of moved pieces.
func (p *PiecePicker) ExpireStalled() []uint32 {
	if p.stallTimeout <= 0 {
		return nil
	}
	p.m.Lock()
	defer p.m.Unlock()
	now := p.clock.Now()
	var expired []uint32
	for i := range p.states {
		a, ok := p.assigned[uint32(i)]
		if !ok || now.Sub(a.at) < p.stallTimeout {
			continue
		}
		p.log.Debugf("piece #%d stalled at peer %s", i, a.peer)
		p.retry(uint32(i))
		expired = append(expired, uint32(i))
	}
	return expired
}

// NotifyDemand records that a piece is requested from or supplied by the peer.
func (p *PiecePicker) NotifyDemand(peerID string) {
	p.m.Lock()
	p.demand[peerID]++
	p.m.Unlock()
}

// Demand returns the demand counter of the peer. Zero means the peer is never seen.
func (p *PiecePicker) Demand(peerID string) int {
	p.m.Lock()
	defer p.m.Unlock()
	return p.demand[peerID]
}

// Complete returns true if there was no piece left to pick on a call to Next.
// Assigned pieces may still be in progress at that time.
func (p *PiecePicker) Complete() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.complete
}

// Done returns true if all pieces are finished.
func (p *PiecePicker) Done() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.numFinished == len(p.pieces)
}

// Stats contains statistics about the picker.
type Stats struct {
	Needed   int
	Pending  int
	Assigned int
	Finished int
	Complete bool
	// Time since the picker is created, until completion if complete.
	Elapsed time.Duration
	// Total length divided by elapsed time, in bytes per second. Zero until complete.
	AverageSpeed float64
}

// Stats returns the statistics about the picker.
func (p *PiecePicker) Stats() Stats {
	p.m.Lock()
	defer p.m.Unlock()
	return p.stats()
}

func (p *PiecePicker) stats() Stats {
	s := Stats{
		Needed:   len(p.needed),
		Pending:  p.pending.Len(),
		Assigned: len(p.assigned),
		Finished: p.numFinished,
		Complete: p.complete,
	}
	if p.complete {
		s.Elapsed = p.completedAt.Sub(p.startedAt)
		if s.Elapsed > 0 {
			s.AverageSpeed = float64(p.totalLength) / s.Elapsed.Seconds()
		}
	} else {
		s.Elapsed = p.clock.Now().Sub(p.startedAt)
	}
	return s
}
