// Package sweeper implements the periodic idle-session reaper: every 10s it
// scans the channel table and clears RUNNING on channels whose last accepted
// data is older than ChannelTimeout.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
)

// Interval is the production scan period; tests pass a shorter one to Run
// to stay fast.
const Interval = 10 * time.Second

// Run scans tbl every scanInterval until ctx is canceled, clearing RUNNING
// on any channel idle longer than timeout. It never deletes channels.
func Run(ctx context.Context, tbl *channel.Table, clk clock.Clock, scanInterval, timeout time.Duration) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	thresholdMillis := timeout.Milliseconds()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared := tbl.Sweep(clk.NowMillis(), thresholdMillis)
			if len(cleared) > 0 {
				slog.Info("sweeper cleared idle channels", "count", len(cleared), "channel_ids", cleared)
			}
		}
	}
}
