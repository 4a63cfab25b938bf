package download

import (
	"encoding/hex"
	"sync/atomic"
	"time"
)

// Stats contains statistics about a Download.
type Stats struct {
	ID       string
	Name     string
	InfoHash string
	AddedAt  time.Time
	Pieces   struct {
		Total    int
		Needed   int
		Pending  int
		Assigned int
		Finished int
	}
	Bytes struct {
		// Length of the torrent.
		Total int64
		// Bytes of the verified pieces.
		Completed int64
		// Bytes received from peers, including wasted.
		Downloaded int64
		// Bytes of the pieces that failed the hash check.
		Wasted int64
	}
	// Bytes per second, averaged over the last minute.
	Speed struct {
		Write int
		Read  int
	}
	// No piece is left to give to peers. Assigned pieces may still be in progress.
	Complete bool
	// All pieces are written and verified.
	Done bool
	// Time since start, until completion if Complete.
	Elapsed time.Duration
	// Bytes per second over the whole download. Zero until Complete.
	AverageSpeed float64
}

// Stats returns statistics about the download.
func (d *Download) Stats() Stats {
	var s Stats
	s.ID = d.id
	s.Name = d.info.Name
	s.InfoHash = hex.EncodeToString(d.info.Hash[:])
	s.AddedAt = d.addedAt

	ps := d.picker.Stats()
	s.Pieces.Total = len(d.pieces)
	s.Pieces.Needed = ps.Needed
	s.Pieces.Pending = ps.Pending
	s.Pieces.Assigned = ps.Assigned
	s.Pieces.Finished = ps.Finished

	bf := d.store.Bitfield()
	for i := range d.pieces {
		if bf.Test(uint32(i)) {
			s.Bytes.Completed += int64(d.pieces[i].Length)
		}
	}
	s.Bytes.Total = d.info.TotalLength
	s.Bytes.Downloaded = d.BytesDownloaded()
	s.Bytes.Wasted = d.BytesWasted()

	s.Speed.Write = int(d.metrics.SpeedWrite.Rate1())
	s.Speed.Read = int(d.metrics.SpeedRead.Rate1())

	s.Complete = ps.Complete
	s.Done = bf.All()
	s.Elapsed = ps.Elapsed
	s.AverageSpeed = ps.AverageSpeed
	return s
}

// BytesDownloaded returns the number of bytes received, including the bytes of pieces that failed the hash check.
func (d *Download) BytesDownloaded() int64 {
	return atomic.LoadInt64(&d.bytesDownloaded)
}

// BytesWasted returns the number of bytes of pieces that failed the hash check.
func (d *Download) BytesWasted() int64 {
	return atomic.LoadInt64(&d.bytesWasted)
}
