// Package piecestore writes downloaded blocks into a single flat file and tracks which pieces are complete.
package piecestore

import (
	"crypto/sha1" // nolint: gosec
	"fmt"
	"io"
	"sync"

	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/cenkalti/piecemeal/internal/storage"
	"github.com/rcrowley/go-metrics"
)

// Store binds to one output file sized to the total length of the torrent.
type Store struct {
	storage     storage.Storage
	name        string
	pieces      []piece.Piece
	pieceLength uint32

	// Counts in bytes.
	WriteSpeed metrics.Meter
	ReadSpeed  metrics.Meter

	m        sync.Mutex
	file     storage.File
	received []*bitfield.Bitfield // per piece, nil until the first block arrives
	bitfield *bitfield.Bitfield
	closed   bool
}

// New opens the output file and returns a Store.
// exists reports whether the file was present before, in which case its contents may need verification.
func New(s storage.Storage, name string, pieces []piece.Piece, pieceLength uint32, totalLength int64) (st *Store, exists bool, err error) {
	f, exists, err := s.Open(name, totalLength)
	if err != nil {
		return nil, false, &StorageError{Op: "open", Err: err}
	}
	st = &Store{
		storage:     s,
		name:        name,
		pieces:      pieces,
		pieceLength: pieceLength,
		WriteSpeed:  metrics.NewMeter(),
		ReadSpeed:   metrics.NewMeter(),
		file:        f,
		received:    make([]*bitfield.Bitfield, len(pieces)),
		bitfield:    bitfield.New(uint32(len(pieces))),
	}
	return st, exists, nil
}

// NumPieces returns the number of pieces in the store.
func (s *Store) NumPieces() uint32 {
	return uint32(len(s.pieces))
}

// Piece returns the piece at index.
func (s *Store) Piece(index uint32) *piece.Piece {
	return &s.pieces[index]
}

// offset returns the absolute position of the byte at begin inside piece index.
func (s *Store) offset(index, begin uint32) int64 {
	return int64(index)*int64(s.pieceLength) + int64(begin)
}

// WriteBlock writes a block of the piece at index starting at byte offset begin.
// done is true if this write completed the piece and the piece data matched its digest.
// If the digest does not match, all blocks of the piece are forgotten and ErrCorruptPiece is returned.
// Writing a block of an already completed piece returns ErrPieceComplete without writing.
func (s *Store) WriteBlock(index, begin uint32, data []byte) (done bool, err error) {
	if index >= uint32(len(s.pieces)) {
		return false, fmt.Errorf("%w: piece index %d out of range", ErrInvalidBlock, index)
	}
	pi := &s.pieces[index]
	blk, ok := pi.FindBlock(begin, uint32(len(data)))
	if !ok {
		return false, fmt.Errorf("%w: piece #%d begin %d length %d", ErrInvalidBlock, index, begin, len(data))
	}

	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.bitfield.Test(index) {
		return false, ErrPieceComplete
	}
	if _, err = s.file.WriteAt(data, s.offset(index, begin)); err != nil {
		return false, &StorageError{Op: "write", Piece: index, Err: err}
	}
	s.WriteSpeed.Mark(int64(len(data)))

	mask := s.received[index]
	if mask == nil {
		mask = bitfield.New(uint32(pi.NumBlocks()))
		s.received[index] = mask
	}
	mask.Set(blk.Index)
	if !mask.All() {
		return false, nil
	}

	// Every block is on disk now. Read the piece back and check its digest before marking it complete.
	buf := make([]byte, pi.Length)
	if _, err = s.file.ReadAt(buf, s.offset(index, 0)); err != nil && err != io.EOF {
		return false, &StorageError{Op: "read", Piece: index, Err: err}
	}
	s.received[index] = nil
	if !pi.VerifyHash(buf, sha1.New()) { // nolint: gosec
		return false, fmt.Errorf("%w: #%d", ErrCorruptPiece, index)
	}
	s.bitfield.Set(index)
	return true, nil
}

// ReceivedBlocks returns the number of blocks written for an incomplete piece.
func (s *Store) ReceivedBlocks(index uint32) int {
	s.m.Lock()
	defer s.m.Unlock()
	if s.bitfield.Test(index) {
		return s.pieces[index].NumBlocks()
	}
	if mask := s.received[index]; mask != nil {
		return int(mask.Count())
	}
	return 0
}

// Reset forgets the blocks received for an incomplete piece so it can be downloaded again.
// The bit of a completed piece is never cleared.
func (s *Store) Reset(index uint32) {
	s.m.Lock()
	s.received[index] = nil
	s.m.Unlock()
}

// ReadPiece reads length bytes starting at begin inside the piece at index.
// It uses its own file handle and does not wait for writes in progress,
// so data of a region being written concurrently may be stale.
func (s *Store) ReadPiece(index, begin, length uint32) ([]byte, error) {
	if index >= uint32(len(s.pieces)) || uint64(begin)+uint64(length) > uint64(s.pieces[index].Length) {
		return nil, fmt.Errorf("%w: piece #%d begin %d length %d", ErrInvalidBlock, index, begin, length)
	}
	f, err := s.storage.OpenReader(s.name)
	if err != nil {
		return nil, &StorageError{Op: "read", Piece: index, Err: err}
	}
	defer f.Close()
	b := make([]byte, length)
	n, err := f.ReadAt(b, s.offset(index, begin))
	if err != nil && !(err == io.EOF && n == len(b)) {
		return nil, &StorageError{Op: "read", Piece: index, Err: err}
	}
	s.ReadSpeed.Mark(int64(n))
	return b, nil
}

// Bitfield returns a copy of the completion bitfield in wire format.
func (s *Store) Bitfield() *bitfield.Bitfield {
	s.m.Lock()
	defer s.m.Unlock()
	return s.bitfield.Copy()
}

// Restore marks the pieces set in bf as complete.
// It is used for loading state saved by a previous run or found by verification.
func (s *Store) Restore(bf *bitfield.Bitfield) {
	s.m.Lock()
	defer s.m.Unlock()
	s.bitfield.Or(bf)
	for i := uint32(0); i < bf.Len(); i++ {
		if bf.Test(i) {
			s.received[i] = nil
		}
	}
}

// Close releases the file handle. It is safe to call Close more than once.
func (s *Store) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.WriteSpeed.Stop()
	s.ReadSpeed.Stop()
	if err := s.file.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}
