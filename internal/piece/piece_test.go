package piece

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"math/rand"
	"testing"

	"github.com/cenkalti/piecemeal/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumBlocks(t *testing.T) {
	p := Piece{Length: 2 * 16 * 1024}
	assert.Equal(t, 2, p.NumBlocks())

	p = Piece{Length: 2*16*1024 + 42}
	assert.Equal(t, 3, p.NumBlocks())
}

func TestGetBlock(t *testing.T) {
	p := Piece{
		Index:  1,
		Length: 2 * 16 * 1024,
	}

	_, ok := p.GetBlock(2)
	assert.False(t, ok)

	b, ok := p.GetBlock(0)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 0, Begin: 0, Length: 16 * 1024}, b)

	b, ok = p.GetBlock(1)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 1, Begin: 16 * 1024, Length: 16 * 1024}, b)

	p = Piece{
		Index:  1,
		Length: 2*16*1024 + 42,
	}

	_, ok = p.GetBlock(3)
	assert.False(t, ok)

	b, ok = p.GetBlock(2)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 2, Begin: 2 * 16 * 1024, Length: 42}, b)
}

func TestFindBlock(t *testing.T) {
	p := Piece{
		Index:  1,
		Length: 2*BlockSize + 42,
	}

	_, ok := p.FindBlock(55, BlockSize)
	assert.False(t, ok)

	_, ok = p.FindBlock(3*BlockSize, BlockSize)
	assert.False(t, ok)

	_, ok = p.FindBlock(0, 1234)
	assert.False(t, ok)

	b, ok := p.FindBlock(BlockSize, BlockSize)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 1, Begin: BlockSize, Length: BlockSize}, b)

	b, ok = p.FindBlock(2*BlockSize, 42)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 2, Begin: 2 * BlockSize, Length: 42}, b)
}

func TestSizing(t *testing.T) {
	const (
		total       = 1000000
		pieceLength = 262144
	)
	assert.Equal(t, uint32(4), NumPieces(total, pieceLength))
	assert.Equal(t, uint32(pieceLength), Length(0, total, pieceLength))
	last := Length(3, total, pieceLength)
	assert.Equal(t, uint32(213568), last)
	assert.Equal(t, uint32(14), NumBlocks(last))
	assert.Equal(t, uint32(576), BlockLength(13, last))
	assert.Equal(t, last, BlockOffset(13)+BlockLength(13, last))
	assert.Equal(t, uint32(13*BlockSize), BlockOffset(13))

	assert.Panics(t, func() { Length(4, total, pieceLength) })
	assert.Panics(t, func() { BlockLength(14, last) })
}

func TestExactMultiples(t *testing.T) {
	assert.Equal(t, uint32(2), NumPieces(2*BlockSize*4, BlockSize*4))
	assert.Equal(t, uint32(BlockSize*4), Length(1, 2*BlockSize*4, BlockSize*4))
	assert.Equal(t, uint32(BlockSize), BlockLength(3, BlockSize*4))
}

func TestLengthsSumUp(t *testing.T) {
	cases := []struct {
		total       int64
		pieceLength uint32
	}{
		{1, 16384},
		{16384, 16384},
		{1000000, 262144},
		{1 << 20, 1 << 18},
		{5*BlockSize + 7, 2 * BlockSize},
		{123456789, 1 << 21},
		{40000, 10000}, // piece length not a multiple of block size
	}
	for _, c := range cases {
		var sum int64
		n := NumPieces(c.total, c.pieceLength)
		for i := uint32(0); i < n; i++ {
			l := Length(i, c.total, c.pieceLength)
			var blockSum uint32
			for j := uint32(0); j < NumBlocks(l); j++ {
				assert.Equal(t, j*BlockSize, BlockOffset(j))
				blockSum += BlockLength(j, l)
			}
			assert.Equal(t, l, blockSum, "piece %d of %+v", i, c)
			sum += int64(l)
		}
		assert.Equal(t, c.total, sum, "%+v", c)
	}
}

func TestNewPieces(t *testing.T) {
	data := make([]byte, 3*BlockSize+100)
	rand.New(rand.NewSource(1)).Read(data)
	b, err := metainfo.NewInfoBytes("f", bytes.NewReader(data), int64(len(data)), 2*BlockSize)
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)

	pieces := NewPieces(info)
	require.Len(t, pieces, 2)
	assert.Equal(t, uint32(2*BlockSize), pieces[0].Length)
	assert.Len(t, pieces[0].Blocks, 2)
	assert.Equal(t, uint32(BlockSize+100), pieces[1].Length)
	assert.Equal(t, []Block{
		{Index: 0, Begin: 0, Length: BlockSize},
		{Index: 1, Begin: BlockSize, Length: 100},
	}, pieces[1].Blocks)

	h := sha1.New() // nolint: gosec
	assert.True(t, pieces[1].VerifyHash(data[2*BlockSize:], h))
	assert.True(t, pieces[0].VerifyHash(data[:2*BlockSize], h))
	assert.False(t, pieces[0].VerifyHash(data[1:2*BlockSize+1], h))
	assert.False(t, pieces[0].VerifyHash(data[:10], h))
}
