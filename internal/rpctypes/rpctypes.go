package rpctypes

import "time"

// Stats of a download as served over RPC.
type Stats struct {
	ID       string
	Name     string
	InfoHash string
	AddedAt  time.Time `structs:",omitnested"`
	Pieces   struct {
		Total    int
		Needed   int
		Pending  int
		Assigned int
		Finished int
	}
	Bytes struct {
		Total      int64
		Completed  int64
		Downloaded int64
		Wasted     int64
	}
	Speed struct {
		Write int
		Read  int
	}
	// No piece is left to give to peers. Some may still be in progress.
	Complete bool
	// All pieces are written and verified.
	Done bool
	// Seconds since start, until completion if complete.
	Elapsed float64
	// Bytes per second over the whole download. Zero until complete.
	AverageSpeed float64
}

type GetStatsRequest struct{}

type GetStatsResponse struct {
	Stats Stats
}

type GetBitfieldRequest struct{}

type GetBitfieldResponse struct {
	// Hex encoded, most significant bit of the first byte is piece 0.
	Bitfield string
	Length   uint32
}
