package piecestore

import (
	"errors"
	"strconv"
)

var (
	// ErrCorruptPiece is returned when all blocks of a piece are written but its digest does not match.
	ErrCorruptPiece = errors.New("corrupt piece")
	// ErrInvalidBlock is returned for data that does not line up with a block of the piece.
	ErrInvalidBlock = errors.New("invalid block")
	// ErrPieceComplete is returned when writing a block of a piece that is already verified.
	// Nothing is written in that case.
	ErrPieceComplete = errors.New("piece is already complete")
	// ErrClosed is returned when writing to a closed store.
	ErrClosed = errors.New("store is closed")
)

// StorageError is returned when the underlying file cannot be read or written.
type StorageError struct {
	Op    string // "read" or "write"
	Piece uint32
	Err   error
}

// Error implements error interface.
func (e *StorageError) Error() string {
	return "storage " + e.Op + " error at piece #" + strconv.FormatUint(uint64(e.Piece), 10) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
