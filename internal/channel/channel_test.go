package channel

import "testing"

func TestLoginStartsNewSessionWhenNotRunning(t *testing.T) {
	c := newChannel("ID1", "DEV1", 0)
	c.RecvCount = 7
	resumed := c.Login(EventLoginFields{TS: 1000, VIN: "11111111111111111", DF: 1, SSI: -70}, nil, 5000)
	if resumed {
		t.Error("expected a new session, got resumed=true")
	}
	if c.RecvCount != 0 {
		t.Errorf("RecvCount = %d, want reset to 0", c.RecvCount)
	}
	if c.Flags&RUNNING == 0 {
		t.Error("RUNNING not set after login")
	}
	if c.VIN != "11111111111111111" {
		t.Errorf("VIN = %q", c.VIN)
	}
	if c.SessionStartTick != 5000 {
		t.Errorf("SessionStartTick = %d, want 5000", c.SessionStartTick)
	}
}

func TestLoginResumesWhenRecentlyActive(t *testing.T) {
	c := newChannel("ID1", "DEV1", 0)
	c.Flags |= RUNNING
	c.ServerDataTick = 1000
	c.RecvCount = 7
	resumed := c.Login(EventLoginFields{TS: 2000}, nil, 1500)
	if !resumed {
		t.Error("expected resumed=true")
	}
	if c.RecvCount != 7 {
		t.Errorf("RecvCount = %d, want preserved at 7", c.RecvCount)
	}
}

func TestLoginIgnoresShortVIN(t *testing.T) {
	c := newChannel("ID1", "DEV1", 0)
	c.VIN = "11111111111111111"
	c.Login(EventLoginFields{VIN: "short"}, nil, 1000)
	if c.VIN != "11111111111111111" {
		t.Errorf("VIN overwritten by non-17-char value: %q", c.VIN)
	}
}

func TestLogoutClearsRunning(t *testing.T) {
	c := newChannel("ID1", "DEV1", 0)
	c.Flags |= RUNNING
	c.Logout(9000)
	if c.Flags&RUNNING != 0 {
		t.Error("RUNNING still set after logout")
	}
	if c.ServerPingTick != 9000 {
		t.Errorf("ServerPingTick = %d, want 9000", c.ServerPingTick)
	}
}

func TestPingSetsSleepingClearsRunning(t *testing.T) {
	c := newChannel("ID1", "DEV1", 0)
	c.Flags |= RUNNING
	c.Ping(4000)
	if c.Flags&SLEEPING == 0 {
		t.Error("SLEEPING not set after ping")
	}
	if c.Flags&RUNNING != 0 {
		t.Error("RUNNING still set after ping")
	}
}

func TestNoteDataUpdatesCounters(t *testing.T) {
	c := newChannel("ID1", "DEV1", 0)
	c.SessionStartTick = 1000
	c.NoteData(2, 64, 4000)
	if c.RecvCount != 1 {
		t.Errorf("RecvCount = %d, want 1", c.RecvCount)
	}
	if c.DataReceived != 64 {
		t.Errorf("DataReceived = %d, want 64", c.DataReceived)
	}
	if c.ServerDataTick != 4000 {
		t.Errorf("ServerDataTick = %d, want 4000", c.ServerDataTick)
	}
	if c.Elapsed != 3 {
		t.Errorf("Elapsed = %d, want 3", c.Elapsed)
	}
}
