package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData   = errors.New("invalid piece data")
	errInvalidPieceLength = errors.New("invalid piece length")
	errZeroLength         = errors.New("torrent has zero length")
)

// Info is the info dictionary of a torrent.
// Files of a multi-file torrent are laid out back to back, so the content is always addressed as one flat byte range.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"`
	Files       []FileDict `bencode:"files"`

	// Set by NewInfo.
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
}

// FileDict is an entry in the files list of a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo decodes and validates the info dictionary in b.
// The info hash is the SHA-1 of b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if err := i.validate(); err != nil {
		return nil, err
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

func (i *Info) validate() error {
	if i.PieceLength == 0 {
		return errInvalidPieceLength
	}
	if len(i.Pieces)%sha1.Size != 0 {
		return errInvalidPieceData
	}
	if !validName(i.Name) {
		return fmt.Errorf("invalid name: %q", i.Name)
	}
	for _, f := range i.Files {
		for _, p := range f.Path {
			if !validName(p) {
				return fmt.Errorf("invalid file path: %q", strings.Join(f.Path, "/"))
			}
		}
	}

	i.NumPieces = uint32(len(i.Pieces) / sha1.Size)
	i.TotalLength = 0
	for _, f := range i.GetFiles() {
		i.TotalLength += f.Length
	}
	if i.TotalLength <= 0 {
		return errZeroLength
	}

	// The pieces must cover the content and the last one must not be empty.
	covered := int64(i.PieceLength) * int64(i.NumPieces)
	if covered < i.TotalLength || covered-i.TotalLength >= int64(i.PieceLength) {
		return errInvalidPieceData
	}
	return nil
}

// validName rejects names that could escape the download directory.
func validName(s string) bool {
	return strings.TrimSpace(s) != ".." && !strings.ContainsAny(s, "/\\")
}

// MultiFile returns true if the torrent lists files instead of a single length.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HashOf returns the expected SHA-1 digest of the piece at index.
func (i *Info) HashOf(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// GetFiles returns the files in torrent as a slice, even if there is a single file.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{Length: i.Length, Path: []string{i.Name}}}
}
