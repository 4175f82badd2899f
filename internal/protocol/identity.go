package protocol

import "strconv"

// Sidecar PIDs the payload processor mirrors onto the channel record.
const (
	PIDRSSI       = 0x100
	PIDDeviceTemp = 0x101
)

// GPS PIDs synthesized by the HTTP /api/post GET variant.
const (
	PIDGPSLatitude  = 0x200
	PIDGPSLongitude = 0x201
	PIDGPSSpeed     = 0x202
	PIDGPSAltitude  = 0x203
	PIDGPSHeading   = 0x204
)

// IsValidDevID reports whether devid is admissible: at least 4 characters,
// alphanumeric only.
func IsValidDevID(devid string) bool {
	if len(devid) < 4 {
		return false
	}
	for i := 0; i < len(devid); i++ {
		c := devid[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ParseHexPID parses a hex PID string (as used by /api/push query keys),
// requiring a strictly positive value. It returns ok=false for anything that
// doesn't parse or parses to zero or negative.
func ParseHexPID(s string) (pid int, ok bool) {
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return int(n), true
}

// IsValidVIN reports whether v is a well-formed 17-character VIN. The server
// never validates VIN check-digit semantics, only length.
func IsValidVIN(v string) bool {
	return len(v) == 17
}
