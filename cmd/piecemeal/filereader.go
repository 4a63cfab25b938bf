package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cenkalti/piecemeal/internal/metainfo"
	"github.com/cenkalti/piecemeal/internal/piece"
)

// fileReader reads pieces from a complete file without modifying it.
type fileReader struct {
	f           *os.File
	pieces      []piece.Piece
	pieceLength uint32
}

func openFileReader(path string, info *metainfo.Info) (*fileReader, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != info.TotalLength {
		f.Close()
		return nil, fmt.Errorf("file size is %d, torrent length is %d", fi.Size(), info.TotalLength)
	}
	return &fileReader{
		f:           f,
		pieces:      piece.NewPieces(info),
		pieceLength: info.PieceLength,
	}, nil
}

func (r *fileReader) NumPieces() uint32 {
	return uint32(len(r.pieces))
}

func (r *fileReader) Piece(index uint32) *piece.Piece {
	return &r.pieces[index]
}

func (r *fileReader) ReadPiece(index, begin, length uint32) ([]byte, error) {
	b := make([]byte, length)
	n, err := r.f.ReadAt(b, int64(index)*int64(r.pieceLength)+int64(begin))
	if err == io.EOF && n == len(b) {
		err = nil
	}
	return b, err
}

func (r *fileReader) Close() error {
	return r.f.Close()
}
