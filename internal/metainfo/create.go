package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"io"

	"github.com/zeebo/bencode"
)

// NewInfoBytes reads length bytes from r and returns a bencoded single-file info dictionary.
// If pieceLength is zero it is calculated from the length.
func NewInfoBytes(name string, r io.Reader, length int64, pieceLength uint32) ([]byte, error) {
	if pieceLength == 0 {
		pieceLength = calculatePieceLength(length)
	}
	var pieces []byte
	buf := make([]byte, pieceLength)
	for left := length; left > 0; {
		n := int64(pieceLength)
		if left < n {
			n = left
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return nil, err
		}
		sum := sha1.Sum(buf[:n]) // nolint: gosec
		pieces = append(pieces, sum[:]...)
		left -= n
	}
	info := struct {
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
	}{
		Name:        name,
		Length:      length,
		PieceLength: pieceLength,
		Pieces:      pieces,
	}
	return bencode.EncodeBytes(info)
}

// calculatePieceLength aims for roughly 2000 pieces, between 32 KiB and 16 MiB.
func calculatePieceLength(totalLength int64) uint32 {
	const (
		minPieceLength = 32 << 10
		maxPieceLength = 16 << 20
		targetPieces   = 2000
	)
	l := uint32(minPieceLength)
	for l < maxPieceLength && totalLength/int64(l) > targetPieces {
		l *= 2
	}
	return l
}
