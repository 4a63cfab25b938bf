// Package verifier checks the pieces of an existing file against their expected hashes.
package verifier

import (
	"crypto/sha1" // nolint: gosec

	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/piece"
)

// PieceReader reads the data of a piece.
type PieceReader interface {
	NumPieces() uint32
	Piece(index uint32) *piece.Piece
	ReadPiece(index, begin, length uint32) ([]byte, error)
}

// Verifier verifies the pieces on disk.
type Verifier struct {
	Bitfield *bitfield.Bitfield
	Error    error

	closeC chan struct{}
	doneC  chan struct{}
}

// Progress information about the verification.
type Progress struct {
	Checked uint32
	OK      uint32
}

// New returns a new Verifier.
func New() *Verifier {
	return &Verifier{
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

// Close the verifier. Waits for Run to return.
func (v *Verifier) Close() {
	close(v.closeC)
	<-v.doneC
}

// Run and verify all pieces of the torrent.
// Progress is sent to progressC if it is not nil. The verifier is sent to resultC when done.
func (v *Verifier) Run(r PieceReader, progressC chan Progress, resultC chan *Verifier) {
	defer close(v.doneC)

	defer func() {
		select {
		case resultC <- v:
		case <-v.closeC:
		}
	}()

	n := r.NumPieces()
	v.Bitfield = bitfield.New(n)
	hash := sha1.New() // nolint: gosec
	var numOK uint32
	for i := uint32(0); i < n; i++ {
		p := r.Piece(i)
		var buf []byte
		buf, v.Error = r.ReadPiece(i, 0, p.Length)
		if v.Error != nil {
			return
		}
		if p.VerifyHash(buf, hash) {
			v.Bitfield.Set(i)
			numOK++
		}
		if progressC == nil {
			continue
		}
		select {
		case progressC <- Progress{Checked: i + 1, OK: numOK}:
		case <-v.closeC:
			return
		}
	}
}
