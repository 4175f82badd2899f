package udpengine

import "errors"

var (
	// ErrUnknownDevice is returned by SendCommand when devid has no channel.
	ErrUnknownDevice = errors.New("udpengine: unknown device id")
	// ErrNoUDPPeer is returned by SendCommand when the channel has never
	// been seen over UDP, so there's nowhere to send the command.
	ErrNoUDPPeer = errors.New("udpengine: device not connected via udp")
	// ErrCommandUnsent is returned when the send syscall itself fails.
	ErrCommandUnsent = errors.New("udpengine: command unsent")
)
