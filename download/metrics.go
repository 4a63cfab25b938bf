package download

import (
	"github.com/rcrowley/go-metrics"
)

type downloadMetrics struct {
	registry metrics.Registry

	PiecesNeeded    metrics.Gauge
	PiecesPending   metrics.Gauge
	PiecesAssigned  metrics.Gauge
	PiecesFinished  metrics.Gauge
	BytesDownloaded metrics.Gauge
	BytesWasted     metrics.Gauge
	WritesPerSecond metrics.Meter
	SpeedWrite      metrics.Meter
	SpeedRead       metrics.Meter
}

func newMetrics(d *Download) *downloadMetrics {
	r := metrics.NewRegistry()
	m := &downloadMetrics{
		registry: r,

		PiecesNeeded:    metrics.NewRegisteredFunctionalGauge("pieces_needed", r, func() int64 { return int64(d.picker.Stats().Needed) }),
		PiecesPending:   metrics.NewRegisteredFunctionalGauge("pieces_pending", r, func() int64 { return int64(d.picker.Stats().Pending) }),
		PiecesAssigned:  metrics.NewRegisteredFunctionalGauge("pieces_assigned", r, func() int64 { return int64(d.picker.Stats().Assigned) }),
		PiecesFinished:  metrics.NewRegisteredFunctionalGauge("pieces_finished", r, func() int64 { return int64(d.picker.Stats().Finished) }),
		BytesDownloaded: metrics.NewRegisteredFunctionalGauge("bytes_downloaded", r, func() int64 { return d.BytesDownloaded() }),
		BytesWasted:     metrics.NewRegisteredFunctionalGauge("bytes_wasted", r, func() int64 { return d.BytesWasted() }),
		WritesPerSecond: metrics.NewRegisteredMeter("writes_per_second", r),
		SpeedWrite:      d.store.WriteSpeed,
		SpeedRead:       d.store.ReadSpeed,
	}
	_ = r.Register("speed_write", m.SpeedWrite)
	_ = r.Register("speed_read", m.SpeedRead)
	return m
}

// Metrics returns the registry of the metrics of the download.
// Meters in the registry are stopped when the download is closed.
func (d *Download) Metrics() metrics.Registry {
	return d.metrics.registry
}

func (m *downloadMetrics) Close() {
	m.WritesPerSecond.Stop()
	m.registry.UnregisterAll()
}
