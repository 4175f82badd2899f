// Package payload implements the PayloadProcessor: the stateful pass over a
// decoded data frame's pairs that applies the in-band timestamp marker,
// stores accepted samples onto a channel, mirrors the RSSI/device-temp
// sidecar PIDs, and derives a sample-rate estimate.
package payload

import (
	"strconv"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
	"telemetryhub/internal/protocol"
)

// Process applies pairs (already structurally decoded by protocol.Decode) to
// ch and returns the count of samples accepted. rawPayloadLen is the
// undecoded body's byte length, folded into DataReceived. Process mutates ch
// directly, so callers must invoke it from inside a
// channel.Table.Mutate/MutateByDevID closure to keep the table's locking
// invariant.
func Process(pairs []protocol.DataPair, rawPayloadLen int, ch *channel.Channel, clk clock.Clock) int {
	now := clk.NowMillis()

	var timestamp int64
	count := 0

	for _, p := range pairs {
		if p.PID == 0 {
			timestamp = parseInt64(p.Value)
			continue
		}
		if timestamp == 0 {
			continue // precedes any pid=0 marker: silently skipped
		}

		ch.Data[p.PID] = channel.Sample{TS: timestamp, Value: p.Value}
		switch p.PID {
		case protocol.PIDRSSI:
			ch.RSSI = int(parseInt64(p.Value))
		case protocol.PIDDeviceTemp:
			ch.DeviceTemp = int(parseInt64(p.Value))
		}
		count++
	}

	if timestamp == 0 {
		timestamp = ch.DeviceTick
	}

	if ch.DeviceTick > 0 {
		interval := timestamp - ch.DeviceTick
		if interval > 100 {
			ch.SampleRate = float64(count) * 60000 / float64(interval)
		}
	}

	ch.DeviceTick = timestamp
	ch.NoteData(count, rawPayloadLen, now)

	return count
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
