package payload

import (
	"testing"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
	"telemetryhub/internal/protocol"
)

func newTestChannel() *channel.Channel {
	c, _ := channel.New(1, nil).Admit("ABCD1234", 0)
	return c
}

func TestProcessStoresSamplesAfterTimestampMarker(t *testing.T) {
	ch := newTestChannel()
	clk := clock.NewFake(5200)
	raw := "0:5000,100:-65,104:37,0:5100,104:38"
	pairs := decodePairs(t, raw)

	count := Process(pairs, len(raw), ch, clk)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if s, ok := ch.Data[0x100]; !ok || s.TS != 5000 || s.Value != "-65" {
		t.Errorf("Data[0x100] = %+v, want {5000 -65}", s)
	}
	if s, ok := ch.Data[0x104]; !ok || s.TS != 5100 || s.Value != "38" {
		t.Errorf("Data[0x104] = %+v, want {5100 38}", s)
	}
	if ch.RSSI != -65 {
		t.Errorf("RSSI = %d, want -65", ch.RSSI)
	}
	if ch.DeviceTick != 5100 {
		t.Errorf("DeviceTick = %d, want 5100", ch.DeviceTick)
	}
}

func TestProcessSkipsPairsBeforeAnyTimestamp(t *testing.T) {
	ch := newTestChannel()
	clk := clock.NewFake(1000)
	raw := "104:37,0:5000,104:38"
	pairs := decodePairs(t, raw)

	count := Process(pairs, len(raw), ch, clk)
	if count != 1 {
		t.Fatalf("count = %d, want 1 (pre-timestamp pair must be skipped)", count)
	}
	if _, ok := ch.Data[0x104]; !ok || ch.Data[0x104].Value != "38" {
		t.Errorf("Data[0x104] = %+v, want value 38 only", ch.Data[0x104])
	}
}

func TestProcessComputesSampleRateOnSecondFrame(t *testing.T) {
	ch := newTestChannel()
	clk := clock.NewFake(1000)
	ch.DeviceTick = 1000

	raw := "0:2000,104:1,104:2,104:3"
	pairs := decodePairs(t, raw)
	Process(pairs, len(raw), ch, clk)

	// interval = 2000-1000 = 1000ms > 100ms, count=3 -> rate = 3*60000/1000 = 180
	if ch.SampleRate != 180 {
		t.Errorf("SampleRate = %v, want 180", ch.SampleRate)
	}
}

func TestProcessSkipsSampleRateWhenIntervalTooSmall(t *testing.T) {
	ch := newTestChannel()
	clk := clock.NewFake(1000)
	ch.DeviceTick = 1000
	ch.SampleRate = 42

	raw := "0:1050,104:1"
	pairs := decodePairs(t, raw)
	Process(pairs, len(raw), ch, clk)

	if ch.SampleRate != 42 {
		t.Errorf("SampleRate = %v, want unchanged at 42 (interval <= 100ms)", ch.SampleRate)
	}
}

func decodePairs(t *testing.T, raw string) []protocol.DataPair {
	t.Helper()
	message := "AAAA#" + raw
	frame := message + "*" + protocol.FormatChecksum(protocol.Checksum(message))
	f, err := protocol.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return f.Pairs
}
