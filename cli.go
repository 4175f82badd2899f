package main

import (
	"fmt"
	"os"

	"telemetryhub/internal/store/sqlitestore"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("telemetryhubd %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "channels":
		return cliChannels(args[1:], dbPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := sqlitestore.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	channels := st.LoadChannels()
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Channels: %d\n", len(channels))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliChannels(args []string, dbPath string) bool {
	st, err := sqlitestore.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		channels := st.LoadChannels()
		if len(channels) == 0 {
			fmt.Println("No channels found.")
			return true
		}
		for _, ch := range channels {
			parked := "running"
			if ch.Flags&1 == 0 {
				parked = "parked"
			}
			fmt.Printf("  %s  devid=%s  %s  recv=%d\n", ch.ID, ch.DevID, parked, ch.RecvCount)
		}
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: telemetryhubd channels [list]\n")
	os.Exit(1)
	return true
}
