// Package config parses the telemetry hub's recognized options from
// command-line flags, lifted into a reusable function so it can be
// unit-tested without touching os.Args.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config holds every enumerated option the telemetry hub accepts.
type Config struct {
	HTTPPort       int
	UDPPort        int
	MaxChannels    int
	ChannelTimeout time.Duration
	SyncInterval   time.Duration
	CacheSize      int // reserved; not currently enforced
	ServerKey      string
	DataDir        string
	LogDir         string
	DBPath         string
	CommandTimeout time.Duration
}

// Parse parses args (typically os.Args[1:]) into a Config.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("telemetryhubd", flag.ContinueOnError)

	cfg := &Config{}
	fs.IntVar(&cfg.HTTPPort, "http-port", 8080, "HTTP operator API bind port")
	fs.IntVar(&cfg.UDPPort, "udp-port", 33000, "UDP device protocol bind port")
	fs.IntVar(&cfg.MaxChannels, "max-channels", 100, "maximum number of concurrently admitted channels")
	fs.DurationVar(&cfg.ChannelTimeout, "channel-timeout", 300*time.Second, "idle-data threshold before the sweeper clears RUNNING")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", 30*time.Second, "minimum gap between data-frame SYNC replies")
	fs.IntVar(&cfg.CacheSize, "cache-size", 1000, "reserved; not currently enforced")
	fs.StringVar(&cfg.ServerKey, "server-key", "", "if set, LOGIN frames must carry a matching SK")
	fs.StringVar(&cfg.DataDir, "data-dir", "data", "working directory for the channel store")
	fs.StringVar(&cfg.LogDir, "log-dir", "log", "reserved; not currently used (logs go to the default slog handler)")
	fs.StringVar(&cfg.DBPath, "db", "data/telemetryhub.db", "SQLite database path")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", 10*time.Second, "how long a dispatched command waits for an ACK before expiring")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.MaxChannels <= 0 {
		return nil, fmt.Errorf("max-channels must be positive, got %d", cfg.MaxChannels)
	}
	return cfg, nil
}
