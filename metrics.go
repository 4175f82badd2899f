package main

import (
	"context"
	"log/slog"
	"time"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/command"
)

// RunMetrics logs channel table and dispatcher stats every interval until
// ctx is canceled.
func RunMetrics(ctx context.Context, tbl *channel.Table, dispatcher *command.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			channels := tbl.Size()
			pending := dispatcher.PendingCount()
			if channels > 0 || pending > 0 {
				slog.Info("telemetry hub metrics", "channels", channels, "pending_commands", pending)
			}
		}
	}
}
