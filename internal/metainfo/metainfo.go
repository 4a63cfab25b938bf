// Package metainfo reads and writes the bencoded metadata that describes the pieces of a download.
package metainfo

import (
	"errors"
	"io"
	"time"

	"github.com/zeebo/bencode"
)

// Creator is written into the "created by" field by NewBytes.
var Creator = "piecemeal"

var errNoInfo = errors.New("no info dict in torrent file")

// MetaInfo is the top level dictionary of a torrent file.
// Only Info is used for downloading; trackers are kept for display.
type MetaInfo struct {
	Info         Info
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreatedAt    time.Time
}

type metaInfoDict struct {
	Info         bencode.RawMessage `bencode:"info"`
	Announce     string             `bencode:"announce,omitempty"`
	AnnounceList [][]string         `bencode:"announce-list,omitempty"`
	Comment      string             `bencode:"comment,omitempty"`
	CreationDate int64              `bencode:"creation date,omitempty"`
	CreatedBy    string             `bencode:"created by,omitempty"`
}

// New decodes a torrent file from r.
func New(r io.Reader) (*MetaInfo, error) {
	var d metaInfoDict
	if err := bencode.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	if len(d.Info) == 0 {
		return nil, errNoInfo
	}
	info, err := NewInfo(d.Info)
	if err != nil {
		return nil, err
	}
	mi := &MetaInfo{
		Info:         *info,
		Announce:     d.Announce,
		AnnounceList: d.AnnounceList,
		Comment:      d.Comment,
		CreatedBy:    d.CreatedBy,
	}
	if d.CreationDate > 0 {
		mi.CreatedAt = time.Unix(d.CreationDate, 0).UTC()
	}
	return mi, nil
}

// Trackers returns the tracker tiers, falling back to the single announce URL.
func (m *MetaInfo) Trackers() [][]string {
	if len(m.AnnounceList) > 0 {
		return m.AnnounceList
	}
	if m.Announce != "" {
		return [][]string{{m.Announce}}
	}
	return nil
}

// NewBytes encodes a torrent file around the bencoded info dictionary.
// A single tracker is written as "announce", more as "announce-list".
func NewBytes(info []byte, trackers [][]string, comment string) ([]byte, error) {
	d := metaInfoDict{
		Info:         info,
		Comment:      comment,
		CreationDate: time.Now().UTC().Unix(),
		CreatedBy:    Creator,
	}
	switch {
	case len(trackers) == 1 && len(trackers[0]) == 1:
		d.Announce = trackers[0][0]
	case len(trackers) > 0:
		d.AnnounceList = trackers
	}
	return bencode.EncodeBytes(d)
}
