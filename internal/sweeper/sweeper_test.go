package sweeper

import (
	"context"
	"testing"
	"time"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
)

func TestRunClearsIdleChannelsAndStopsOnCancel(t *testing.T) {
	tbl := channel.New(10, nil)
	c, _ := tbl.Admit("ABCD1234", 0)
	tbl.Mutate(c.ID, func(ch *channel.Channel) {
		ch.Flags |= channel.RUNNING
		ch.ServerDataTick = 0
	})

	fake := clock.NewFake(1000)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, tbl, fake, time.Millisecond, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := tbl.FindByChannelID(c.ID); ok && snap.Flags&channel.RUNNING == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, _ := tbl.FindByChannelID(c.ID)
	if snap.Flags&channel.RUNNING != 0 {
		t.Fatal("sweeper did not clear RUNNING within the deadline")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
