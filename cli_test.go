package main

import (
	"path/filepath"
	"testing"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/store/sqlitestore"
)

func cliDBSetup(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "telemetryhub.db")
	st, err := sqlitestore.Open(dbPath)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	st.Close()
	return dbPath
}

func cliDBWithChannels(t *testing.T, devids ...string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "telemetryhub.db")
	st, err := sqlitestore.Open(dbPath)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	for i, devid := range devids {
		st.SaveChannel(channel.Snapshot{ID: devid + "ID", DevID: devid, Flags: channel.RUNNING, RecvCount: uint64(i)})
	}
	st.Close()
	return dbPath
}

func TestRunCLIVersion(t *testing.T) {
	if !RunCLI([]string{"version"}, "") {
		t.Fatal("RunCLI(version) returned false")
	}
}

func TestRunCLIUnknownSubcommandReturnsFalse(t *testing.T) {
	if RunCLI([]string{"bogus"}, "") {
		t.Fatal("RunCLI(bogus) returned true")
	}
}

func TestRunCLIStatusOnEmptyDatabase(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"status"}, dbPath) {
		t.Fatal("RunCLI(status) returned false")
	}
}

func TestRunCLIChannelsListsSeededChannels(t *testing.T) {
	dbPath := cliDBWithChannels(t, "ABCD1234", "EFGH5678")
	if !RunCLI([]string{"channels", "list"}, dbPath) {
		t.Fatal("RunCLI(channels list) returned false")
	}
}

func TestRunCLINoArgsReturnsFalse(t *testing.T) {
	if RunCLI(nil, "") {
		t.Fatal("RunCLI(nil) returned true")
	}
}
