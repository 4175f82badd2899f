// Package sqlitestore implements channel.StoreAdapter on top of SQLite,
// with a pure-Go driver so the binary stays cgo-free.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"telemetryhub/internal/channel"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — channels
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		devid TEXT NOT NULL UNIQUE,
		vin TEXT NOT NULL DEFAULT '',
		ip_addr TEXT NOT NULL DEFAULT '',
		flags INTEGER NOT NULL DEFAULT 0,
		dev_flags INTEGER NOT NULL DEFAULT 0,
		rssi INTEGER NOT NULL DEFAULT 0,
		device_temp INTEGER NOT NULL DEFAULT 0,
		device_tick INTEGER NOT NULL DEFAULT 0,
		server_data_tick INTEGER NOT NULL DEFAULT 0,
		server_ping_tick INTEGER NOT NULL DEFAULT 0,
		recv_count INTEGER NOT NULL DEFAULT 0,
		tx_count INTEGER NOT NULL DEFAULT 0,
		sample_rate REAL NOT NULL DEFAULT 0,
		elapsed INTEGER NOT NULL DEFAULT 0,
		data_json TEXT NOT NULL DEFAULT '[]',
		updated_at_unix_ms INTEGER NOT NULL DEFAULT 0
	)`,
	// v2 — devid lookup index
	`CREATE INDEX IF NOT EXISTS idx_channels_devid ON channels(devid)`,
	// v3 — enable WAL mode for concurrent readers
	`PRAGMA journal_mode=WAL`,
}

// Store persists channel snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite channel store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("applied sqlite migration", "version", v)
	}
	return nil
}

// Optimize runs PRAGMA optimize for the SQLite query planner statistics.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// SaveChannel upserts a channel snapshot by id, satisfying
// channel.StoreAdapter. Errors are logged, never surfaced; the in-memory
// table stays authoritative.
func (s *Store) SaveChannel(snap channel.Snapshot) {
	dataJSON, err := json.Marshal(snap.Data)
	if err != nil {
		slog.Error("marshal channel data for persistence", "channel_id", snap.ID, "error", err)
		return
	}

	const q = `
INSERT INTO channels (
	id, devid, vin, ip_addr, flags, dev_flags, rssi, device_temp, device_tick,
	server_data_tick, server_ping_tick, recv_count, tx_count, sample_rate,
	elapsed, data_json, updated_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	devid=excluded.devid, vin=excluded.vin, ip_addr=excluded.ip_addr,
	flags=excluded.flags, dev_flags=excluded.dev_flags, rssi=excluded.rssi,
	device_temp=excluded.device_temp, device_tick=excluded.device_tick,
	server_data_tick=excluded.server_data_tick,
	server_ping_tick=excluded.server_ping_tick, recv_count=excluded.recv_count,
	tx_count=excluded.tx_count, sample_rate=excluded.sample_rate,
	elapsed=excluded.elapsed, data_json=excluded.data_json,
	updated_at_unix_ms=excluded.updated_at_unix_ms
`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx, q,
		snap.ID, snap.DevID, snap.VIN, snap.IPAddr, snap.Flags, snap.DevFlags, snap.RSSI,
		snap.DeviceTemp, snap.DeviceTick, snap.ServerDataTick, snap.ServerPingTick,
		snap.RecvCount, snap.TxCount, snap.SampleRate, snap.Elapsed, string(dataJSON),
		time.Now().UnixMilli(),
	)
	if err != nil {
		slog.Error("persist channel", "channel_id", snap.ID, "error", err)
	}
}

// LoadChannels returns every persisted channel, called once at startup.
// Failures are logged and degrade to an empty table.
func (s *Store) LoadChannels() []channel.Snapshot {
	const q = `
SELECT id, devid, vin, ip_addr, flags, dev_flags, rssi, device_temp,
       device_tick, server_data_tick, server_ping_tick, recv_count, tx_count,
       sample_rate, elapsed, data_json
FROM channels
`
	rows, err := s.db.Query(q)
	if err != nil {
		slog.Error("load channels", "error", err)
		return nil
	}
	defer rows.Close()

	var out []channel.Snapshot
	for rows.Next() {
		var snap channel.Snapshot
		var dataJSON string
		if err := rows.Scan(
			&snap.ID, &snap.DevID, &snap.VIN, &snap.IPAddr, &snap.Flags, &snap.DevFlags,
			&snap.RSSI, &snap.DeviceTemp, &snap.DeviceTick, &snap.ServerDataTick,
			&snap.ServerPingTick, &snap.RecvCount, &snap.TxCount, &snap.SampleRate,
			&snap.Elapsed, &dataJSON,
		); err != nil {
			slog.Error("scan persisted channel row", "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(dataJSON), &snap.Data); err != nil {
			slog.Error("unmarshal persisted channel data", "channel_id", snap.ID, "error", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		slog.Error("iterate persisted channels", "error", err)
	}
	return out
}
