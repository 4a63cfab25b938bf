// Package resumer contains an interface that is used by download package for resuming an existing download.
package resumer

// Resumer provides operations to save resume info for a download.
type Resumer interface {
	WriteBitfield(downloadID string, value []byte) error
	WriteStats(downloadID string, s Stats) error
}

// Stats are counters that survive restarts.
type Stats struct {
	BytesDownloaded int64
	BytesWasted     int64
}
