package channel

import (
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"telemetryhub/internal/protocol"
)

// AdmitResult distinguishes Admit's outcomes.
type AdmitResult int

const (
	AdmitOK AdmitResult = iota
	AdmitSaturated
	AdmitInvalidDevID
)

// StoreAdapter is the write-through hook to external persistent storage.
// SaveChannel must be idempotent (upsert by ID); the table calls it with no
// lock held, so implementations must be internally safe for concurrent
// writers.
type StoreAdapter interface {
	SaveChannel(Snapshot)
	LoadChannels() []Snapshot
}

// Table is the concurrent channel-id/device-id map. A single exclusive lock
// guards every mutation rather than per-channel locks; contention stays low
// because critical sections never span I/O.
type Table struct {
	mu          sync.RWMutex
	byID        map[string]*Channel
	byDevID     map[string]*Channel
	maxChannels int
	store       StoreAdapter
	persistCh   chan Snapshot
}

// Persist worker-pool sizing. Writes are fire-and-forget; when the queue
// backs up the write is dropped and the next mutation re-persists the
// channel's full state anyway.
const (
	persistWorkers    = 4
	persistQueueDepth = 256
)

// New returns an empty table bounded at maxChannels. If store is non-nil,
// it's seeded from LoadChannels at construction time and a worker pool is
// started to drain snapshot writes; the workers live as long as the process.
func New(maxChannels int, store StoreAdapter) *Table {
	t := &Table{
		byID:        make(map[string]*Channel),
		byDevID:     make(map[string]*Channel),
		maxChannels: maxChannels,
		store:       store,
	}
	if store != nil {
		for _, snap := range store.LoadChannels() {
			c := snapshotToChannel(snap)
			t.byID[c.ID] = c
			t.byDevID[c.DevID] = c
		}
		slog.Info("channel table seeded from store", "count", len(t.byID))

		t.persistCh = make(chan Snapshot, persistQueueDepth)
		for i := 0; i < persistWorkers; i++ {
			go func() {
				for snap := range t.persistCh {
					store.SaveChannel(snap)
				}
			}()
		}
	}
	return t
}

func snapshotToChannel(s Snapshot) *Channel {
	c := &Channel{
		ID:             s.ID,
		DevID:          s.DevID,
		VIN:            s.VIN,
		IPAddr:         s.IPAddr,
		Flags:          s.Flags,
		DevFlags:       s.DevFlags,
		RSSI:           s.RSSI,
		DeviceTemp:     s.DeviceTemp,
		DeviceTick:     s.DeviceTick,
		ServerDataTick: s.ServerDataTick,
		ServerPingTick: s.ServerPingTick,
		RecvCount:      s.RecvCount,
		TxCount:        s.TxCount,
		SampleRate:     s.SampleRate,
		Elapsed:        s.Elapsed,
		Data:           make(map[int]Sample),
	}
	for _, dp := range s.Data {
		c.Data[dp.PID] = Sample{TS: dp.TS, Value: dp.Value}
	}
	return c
}

// FindByChannelID looks up a channel by its server-assigned id.
func (t *Table) FindByChannelID(id string) (*Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[id]
	return c, ok
}

// FindByDeviceID looks up a channel by its device-chosen id.
func (t *Table) FindByDeviceID(devid string) (*Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byDevID[devid]
	return c, ok
}

// Admit returns the existing channel for devid if present (idempotent),
// otherwise creates and inserts a new one, failing closed when the table is
// saturated or devid is malformed.
func (t *Table) Admit(devid string, now int64) (*Channel, AdmitResult) {
	if !protocol.IsValidDevID(devid) {
		return nil, AdmitInvalidDevID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.byDevID[devid]; ok {
		return c, AdmitOK
	}
	if len(t.byID) >= t.maxChannels {
		slog.Warn("channel admission saturated", "devid", devid, "max_channels", t.maxChannels)
		return nil, AdmitSaturated
	}

	id := generateChannelID()
	c := newChannel(id, devid, now)
	t.byID[id] = c
	t.byDevID[devid] = c
	slog.Info("channel admitted", "id", id, "devid", devid, "total_channels", len(t.byID))
	t.persistLocked(c)
	return c, AdmitOK
}

// Evict removes a channel from the table entirely. Eviction is
// operator-driven only; the sweeper never calls this.
func (t *Table) Evict(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	delete(t.byDevID, c.DevID)
	slog.Info("channel evicted", "id", id, "devid", c.DevID)
	return true
}

// Size returns the current channel count.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns a stable ordered point-in-time copy of every channel.
func (t *Table) Snapshot() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, snapshotLocked(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SnapshotOne returns a single channel's snapshot by devid.
func (t *Table) SnapshotOne(devid string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byDevID[devid]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(c), true
}

// View runs fn against the channel identified by id under the table's
// read lock, for callers that need a consistent read of more than one
// mutable field (e.g. RecvCount and TxCount together) without racing a
// concurrent Mutate. fn must not retain c beyond the call.
func (t *Table) View(id string, fn func(*Channel)) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[id]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// ViewByDevID is View keyed by device-id instead of channel-id.
func (t *Table) ViewByDevID(devid string, fn func(*Channel)) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byDevID[devid]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Mutate runs fn against the channel identified by id under the table's
// exclusive lock, then persists the result. This is the one entry point the
// UDP engine, HTTP frontend, and payload processor use to change a channel's
// fields, so every read-modify-write is serialized.
func (t *Table) Mutate(id string, fn func(*Channel)) bool {
	t.mu.Lock()
	c, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	fn(c)
	t.persistLocked(c)
	t.mu.Unlock()
	return true
}

// MutateByDevID is Mutate keyed by device-id instead of channel-id.
func (t *Table) MutateByDevID(devid string, fn func(*Channel)) bool {
	t.mu.Lock()
	c, ok := t.byDevID[devid]
	if !ok {
		t.mu.Unlock()
		return false
	}
	fn(c)
	t.persistLocked(c)
	t.mu.Unlock()
	return true
}

// persistLocked hands the store write to the worker pool so the table lock
// is never held across storage I/O. A full queue drops the write.
func (t *Table) persistLocked(c *Channel) {
	if t.store == nil {
		return
	}
	select {
	case t.persistCh <- snapshotLocked(c):
	default:
		slog.Warn("channel persist queue full, dropping write", "id", c.ID)
	}
}

// Sweep scans every channel and clears RUNNING on any whose last accepted
// data is older than idleThresholdMillis. It never deletes a channel.
// Returns the ids it cleared, for logging by the caller.
func (t *Table) Sweep(now, idleThresholdMillis int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []string
	for id, c := range t.byID {
		if c.Flags&RUNNING != 0 && now-c.ServerDataTick > idleThresholdMillis {
			c.Flags &^= RUNNING
			cleared = append(cleared, id)
			t.persistLocked(c)
		}
	}
	return cleared
}

// generateChannelID mints a fresh opaque 128-bit channel id, rendered as
// uppercase hex for wire use.
func generateChannelID() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))
}
