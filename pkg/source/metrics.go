package source

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
)

// ReportMetrics writes a FIFO stats point every interval until ctx is done.
func (s *Source) ReportMetrics(ctx context.Context, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var last Stats
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			st := s.Stats()
			s.writeAPI.WritePoint(influxdb2.NewPoint("airspy.fifo",
				map[string]string{
					"device":  s.drv.Info().Driver,
					"session": st.Session,
				},
				map[string]interface{}{
					"size":           st.Size,
					"fill":           float64(st.Size) / float64(st.Capacity),
					"accepted":       st.Accepted - last.Accepted,
					"dropped":        st.Dropped - last.Dropped,
					"overruns":       st.Overruns - last.Overruns,
					"popped":         st.Popped - last.Popped,
					"driver_dropped": st.DriverDropped - last.DriverDropped,
					"streaming":      st.State == Streaming.String(),
				}, time.Now()))

			if st.Dropped > last.Dropped {
				s.logger.Debug().
					Uint64("dropped", st.Dropped-last.Dropped).
					Uint64("overruns", st.Overruns-last.Overruns).
					Msg("fifo overruns in last interval")
			}
			last = st
		}
	}
}
