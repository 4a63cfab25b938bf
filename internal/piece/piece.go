// Package piece computes how a torrent is split into pieces and each piece into blocks.
package piece

import (
	"bytes"
	"hash"

	"github.com/cenkalti/piecemeal/internal/metainfo"
)

// BlockSize is the length of every block except possibly the last block of a piece.
const BlockSize = 16 * 1024

// Piece of a torrent.
type Piece struct {
	Index  uint32 // index in torrent
	Length uint32 // always equal to the nominal piece length except last piece.
	Blocks []Block
	Hash   []byte // expected digest of the piece data
}

// NewPieces returns the pieces of the torrent described by info.
func NewPieces(info *metainfo.Info) []Piece {
	pieces := make([]Piece, info.NumPieces)
	for i := uint32(0); i < info.NumPieces; i++ {
		length := Length(i, info.TotalLength, info.PieceLength)
		pieces[i] = Piece{
			Index:  i,
			Length: length,
			Blocks: newBlocks(length),
			Hash:   info.HashOf(i),
		}
	}
	return pieces
}

// NumPieces returns the number of pieces for totalLength bytes.
func NumPieces(totalLength int64, pieceLength uint32) uint32 {
	div, mod := totalLength/int64(pieceLength), totalLength%int64(pieceLength)
	if mod != 0 {
		div++
	}
	return uint32(div)
}

// Length returns the length of piece at index.
// Panics if index is out of range.
func Length(index uint32, totalLength int64, pieceLength uint32) uint32 {
	n := NumPieces(totalLength, pieceLength)
	if index >= n {
		panic("piece index out of range")
	}
	if index < n-1 {
		return pieceLength
	}
	if mod := uint32(totalLength % int64(pieceLength)); mod != 0 {
		return mod
	}
	return pieceLength
}

// NumBlocks returns the number of blocks in a piece of length bytes.
func NumBlocks(pieceLength uint32) uint32 {
	div, mod := divMod32(pieceLength, BlockSize)
	if mod != 0 {
		div++
	}
	return div
}

// BlockLength returns the length of block at index in a piece of length bytes.
// Panics if index is out of range.
func BlockLength(index, pieceLength uint32) uint32 {
	n := NumBlocks(pieceLength)
	if index >= n {
		panic("block index out of range")
	}
	if index < n-1 {
		return BlockSize
	}
	if mod := pieceLength % BlockSize; mod != 0 {
		return mod
	}
	return BlockSize
}

// BlockOffset returns the byte offset of block at index inside its piece.
func BlockOffset(index uint32) uint32 {
	return index * BlockSize
}

func newBlocks(pieceLength uint32) []Block {
	blocks := make([]Block, NumBlocks(pieceLength))
	for j := range blocks {
		blocks[j] = Block{
			Index:  uint32(j),
			Begin:  BlockOffset(uint32(j)),
			Length: BlockLength(uint32(j), pieceLength),
		}
	}
	return blocks
}

// NumBlocks returns the number of blocks in the piece.
func (p *Piece) NumBlocks() int {
	return int(NumBlocks(p.Length))
}

// GetBlock returns the block at index.
func (p *Piece) GetBlock(index uint32) (Block, bool) {
	if index >= NumBlocks(p.Length) {
		return Block{}, false
	}
	return Block{
		Index:  index,
		Begin:  BlockOffset(index),
		Length: BlockLength(index, p.Length),
	}, true
}

// FindBlock returns the block starting at byte offset begin if its length matches.
func (p *Piece) FindBlock(begin, length uint32) (Block, bool) {
	idx, mod := divMod32(begin, BlockSize)
	if mod != 0 {
		return Block{}, false
	}
	b, ok := p.GetBlock(idx)
	if !ok || b.Length != length {
		return Block{}, false
	}
	return b, true
}

// VerifyHash returns true if hash of buf matches the expected digest of the piece.
func (p *Piece) VerifyHash(buf []byte, h hash.Hash) bool {
	if uint32(len(buf)) != p.Length {
		return false
	}
	h.Reset()
	_, _ = h.Write(buf)
	return bytes.Equal(h.Sum(nil), p.Hash)
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
