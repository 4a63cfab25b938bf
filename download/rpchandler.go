package download

import (
	"github.com/cenkalti/piecemeal/internal/rpctypes"
)

type rpcHandler struct {
	download *Download
}

func (h *rpcHandler) GetStats(args *rpctypes.GetStatsRequest, reply *rpctypes.GetStatsResponse) error {
	s := h.download.Stats()
	reply.Stats = rpctypes.Stats{
		ID:           s.ID,
		Name:         s.Name,
		InfoHash:     s.InfoHash,
		AddedAt:      s.AddedAt,
		Complete:     s.Complete,
		Done:         s.Done,
		Elapsed:      s.Elapsed.Seconds(),
		AverageSpeed: s.AverageSpeed,
	}
	reply.Stats.Pieces.Total = s.Pieces.Total
	reply.Stats.Pieces.Needed = s.Pieces.Needed
	reply.Stats.Pieces.Pending = s.Pieces.Pending
	reply.Stats.Pieces.Assigned = s.Pieces.Assigned
	reply.Stats.Pieces.Finished = s.Pieces.Finished
	reply.Stats.Bytes.Total = s.Bytes.Total
	reply.Stats.Bytes.Completed = s.Bytes.Completed
	reply.Stats.Bytes.Downloaded = s.Bytes.Downloaded
	reply.Stats.Bytes.Wasted = s.Bytes.Wasted
	reply.Stats.Speed.Write = s.Speed.Write
	reply.Stats.Speed.Read = s.Speed.Read
	return nil
}

func (h *rpcHandler) GetBitfield(args *rpctypes.GetBitfieldRequest, reply *rpctypes.GetBitfieldResponse) error {
	bf := h.download.Bitfield()
	reply.Bitfield = bf.Hex()
	reply.Length = bf.Len()
	return nil
}
