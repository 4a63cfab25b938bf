package verifier

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"testing"

	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReader struct {
	pieces []piece.Piece
	data   []byte
	fail   uint32
}

func (m *memReader) NumPieces() uint32               { return uint32(len(m.pieces)) }
func (m *memReader) Piece(index uint32) *piece.Piece { return &m.pieces[index] }

func (m *memReader) ReadPiece(index, begin, length uint32) ([]byte, error) {
	if index == m.fail {
		return nil, errors.New("read error")
	}
	off := int(index)*piece.BlockSize + int(begin)
	return m.data[off : off+int(length)], nil
}

func newMemReader(numPieces int) *memReader {
	data := bytes.Repeat([]byte("0123456789abcdef"), numPieces*piece.BlockSize/16)
	m := &memReader{data: data, fail: ^uint32(0)}
	for i := 0; i < numPieces; i++ {
		sum := sha1.Sum(data[i*piece.BlockSize : (i+1)*piece.BlockSize]) // nolint: gosec
		m.pieces = append(m.pieces, piece.Piece{Index: uint32(i), Length: piece.BlockSize, Hash: sum[:]})
	}
	return m
}

func TestVerifier(t *testing.T) {
	r := newMemReader(10)
	r.pieces[3].Hash = make([]byte, sha1.Size)
	r.pieces[8].Hash = make([]byte, sha1.Size)

	v := New()
	progressC := make(chan Progress)
	resultC := make(chan *Verifier, 1)
	go v.Run(r, progressC, resultC)

	var last Progress
	for i := 0; i < 10; i++ {
		last = <-progressC
	}
	assert.Equal(t, Progress{Checked: 10, OK: 8}, last)

	res := <-resultC
	require.NoError(t, res.Error)
	assert.Equal(t, "ef40", res.Bitfield.Hex())
}

func TestVerifierReadError(t *testing.T) {
	r := newMemReader(4)
	r.fail = 2

	v := New()
	resultC := make(chan *Verifier, 1)
	go v.Run(r, nil, resultC)

	res := <-resultC
	assert.EqualError(t, res.Error, "read error")
	assert.Equal(t, uint32(2), res.Bitfield.Count())
}

func TestVerifierClose(t *testing.T) {
	v := New()
	go v.Run(newMemReader(4), make(chan Progress), make(chan *Verifier))
	v.Close()
}
