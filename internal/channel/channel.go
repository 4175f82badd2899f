// Package channel implements the ChannelTable and per-device Channel record:
// the concurrent map from channel-id/device-id to session state that the UDP
// engine, HTTP frontend, and sweeper all share. Mutation of a Channel's
// fields is only ever safe under the owning ChannelTable's lock; Channel
// itself carries no lock of its own.
package channel

import "net"

// Flag bits for Channel.Flags.
const (
	RUNNING  = 0x1
	SLEEPING = 0x2
)

// Sample is one stored PID reading.
type Sample struct {
	TS    int64
	Value string
}

// Channel is one device's session and last-known telemetry. All fields are
// present with well-defined zero values; udpPeer is the one explicit
// optional (nil until the device is first seen over UDP).
type Channel struct {
	ID    string
	DevID string
	VIN   string

	Flags      int
	DevFlags   int
	RSSI       int
	DeviceTemp int

	DeviceTick       int64
	ServerDataTick   int64
	ServerPingTick   int64
	ServerSyncTick   int64
	SessionStartTick int64

	Elapsed      int64
	RecvCount    uint64
	TxCount      uint64
	DataReceived int64
	SampleRate   float64

	Data map[int]Sample

	UDPPeer  *net.UDPAddr
	CmdCount uint64

	IPAddr    string
	CreatedAt int64
}

// newChannel builds a freshly admitted channel record. Called only from
// ChannelTable.Admit while holding the table lock.
func newChannel(id, devid string, now int64) *Channel {
	return &Channel{
		ID:        id,
		DevID:     devid,
		Data:      make(map[int]Sample),
		CreatedAt: now,
	}
}

// EventLoginFields is the subset of a decoded LOGIN event the Login method
// needs; it is satisfied by protocol.EventFields without this package
// importing protocol, keeping the dependency direction leaf-ward.
type EventLoginFields struct {
	TS  int64
	VIN string
	DF  int
	SSI int
}

// Login starts or resumes a session. A session is considered new when the
// channel isn't RUNNING, or its last accepted data is older than 60s; in that
// case counters and the sample map are reset and sessionStartTick restarts.
// Otherwise this is a resumed session: counters are preserved. In both cases
// deviceTick/rssi/devFlags/udpPeer are refreshed, and vin is overwritten only
// when exactly 17 characters long.
func (c *Channel) Login(evt EventLoginFields, peer *net.UDPAddr, now int64) (resumed bool) {
	const resumeWindowMillis = 60_000

	isNewSession := c.Flags&RUNNING == 0 || (now-c.ServerDataTick) > resumeWindowMillis
	if isNewSession {
		c.DataReceived = 0
		c.RecvCount = 0
		c.TxCount = 0
		c.Elapsed = 0
		c.Data = make(map[int]Sample)
		c.SessionStartTick = now
		c.Flags |= RUNNING
		c.Flags &^= SLEEPING
	} else {
		resumed = true
	}

	c.DeviceTick = evt.TS
	c.RSSI = evt.SSI
	c.DevFlags = evt.DF
	if len(evt.VIN) == 17 {
		c.VIN = evt.VIN
	}
	if peer != nil {
		c.UDPPeer = peer
	}
	return resumed
}

// Logout ends the current session without touching the sample map.
func (c *Channel) Logout(now int64) {
	c.Flags &^= RUNNING
	c.ServerPingTick = now
}

// Ping puts the channel to sleep: SLEEPING on, RUNNING off.
func (c *Channel) Ping(now int64) {
	c.Flags |= SLEEPING
	c.Flags &^= RUNNING
	c.ServerPingTick = now
}

// NoteData records one accepted payload's counters and refreshes the
// server-side data tick.
func (c *Channel) NoteData(countAccepted int, payloadLen int, now int64) {
	c.RecvCount++
	c.DataReceived += int64(payloadLen)
	c.ServerDataTick = now
	if c.SessionStartTick > 0 {
		c.Elapsed = (now - c.SessionStartTick) / 1000
	}
	_ = countAccepted // accepted-sample count is folded into SampleRate by the payload processor
}

// IsRunning reports whether RUNNING is set.
func (c *Channel) IsRunning() bool { return c.Flags&RUNNING != 0 }

// IsSleeping reports whether SLEEPING is set.
func (c *Channel) IsSleeping() bool { return c.Flags&SLEEPING != 0 }

// Snapshot is an immutable point-in-time copy of a Channel's public fields,
// safe to read after the table lock is released.
type Snapshot struct {
	ID             string
	DevID          string
	VIN            string
	IPAddr         string
	Flags          int
	DevFlags       int
	RSSI           int
	DeviceTemp     int
	DeviceTick     int64
	ServerDataTick int64
	ServerPingTick int64
	RecvCount      uint64
	TxCount        uint64
	SampleRate     float64
	Elapsed        int64
	Data           []DataPoint
	HasUDPPeer     bool
}

// DataPoint is one entry of a Snapshot's last-sample list.
type DataPoint struct {
	PID   int
	Value string
	TS    int64
}

// snapshotLocked copies out c's fields. Caller must hold the table lock.
func snapshotLocked(c *Channel) Snapshot {
	data := make([]DataPoint, 0, len(c.Data))
	for pid, s := range c.Data {
		data = append(data, DataPoint{PID: pid, Value: s.Value, TS: s.TS})
	}
	return Snapshot{
		ID:             c.ID,
		DevID:          c.DevID,
		VIN:            c.VIN,
		IPAddr:         c.IPAddr,
		Flags:          c.Flags,
		DevFlags:       c.DevFlags,
		RSSI:           c.RSSI,
		DeviceTemp:     c.DeviceTemp,
		DeviceTick:     c.DeviceTick,
		ServerDataTick: c.ServerDataTick,
		ServerPingTick: c.ServerPingTick,
		RecvCount:      c.RecvCount,
		TxCount:        c.TxCount,
		SampleRate:     c.SampleRate,
		Elapsed:        c.Elapsed,
		Data:           data,
		HasUDPPeer:     c.UDPPeer != nil,
	}
}
