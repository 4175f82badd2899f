// Package udpengine implements the UDP protocol engine: the single-socket
// receive loop that classifies each datagram, drives the per-channel session
// state machine, emits reply frames, and originates outgoing commands.
package udpengine

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
	"telemetryhub/internal/command"
	"telemetryhub/internal/payload"
	"telemetryhub/internal/protocol"
)

// MaxDatagramSize bounds a single inbound UDP read.
const MaxDatagramSize = 4096

// Engine owns the UDP socket and drives the session state machine. It's safe
// for concurrent SendCommand calls from HTTP handlers; the receive loop
// itself is single-owner.
type Engine struct {
	conn       *net.UDPConn
	table      *channel.Table
	dispatcher *command.Dispatcher
	clock      clock.Clock

	serverKey    string
	syncInterval time.Duration
}

// Config carries the subset of server configuration the engine needs.
type Config struct {
	ServerKey    string
	SyncInterval time.Duration
}

// New binds a UDP socket on port and returns an Engine ready to Run.
func New(port int, tbl *channel.Table, dispatcher *command.Dispatcher, clk clock.Clock, cfg Config) (*Engine, error) {
	addr := &net.UDPAddr{Port: port, IP: net.IPv4zero}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Engine{
		conn:         conn,
		table:        tbl,
		dispatcher:   dispatcher,
		clock:        clk,
		serverKey:    cfg.ServerKey,
		syncInterval: cfg.SyncInterval,
	}, nil
}

// Close closes the underlying socket, causing a blocked Run to fault out.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// LocalAddr returns the bound UDP address.
func (e *Engine) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Run reads datagrams until the socket is closed, handling each inline in
// receive order. A 1-second read deadline lets the caller observe shutdown
// by closing the socket out-of-band.
func (e *Engine) Run() {
	buf := make([]byte, MaxDatagramSize)
	for {
		_ = e.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			slog.Info("udp engine stopped", "error", err)
			return
		}
		e.handleDatagram(buf[:n], addr)
	}
}

func (e *Engine) handleDatagram(raw []byte, addr *net.UDPAddr) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("dropped malformed udp frame", "error", err, "peer", addr.String())
		return
	}

	if frame.Kind == protocol.KindData {
		e.handleDataFrame(frame, addr)
		return
	}
	e.handleEventFrame(frame, addr)
}

func (e *Engine) handleEventFrame(frame *protocol.Frame, addr *net.UDPAddr) {
	now := e.clock.NowMillis()

	switch frame.Event.EV {
	case protocol.EventLogin:
		e.handleLogin(frame, addr, now)
	case protocol.EventLogout:
		e.handleLogout(frame, now)
	case protocol.EventPing:
		e.handlePing(frame, now)
	case protocol.EventAck:
		e.handleAck(frame)
	default:
		// SYNC/RECONNECT/COMMAND are server-originated only; an inbound
		// frame carrying one is logged and otherwise ignored.
		slog.Debug("ignoring server-originated event id from device", "ev", frame.Event.EV, "peer", addr.String())
	}
}

func (e *Engine) handleLogin(frame *protocol.Frame, addr *net.UDPAddr, now int64) {
	if e.serverKey != "" && frame.Event.SK != e.serverKey {
		slog.Warn("login rejected: server key mismatch", "peer", addr.String())
		return
	}

	ch, ok := e.table.FindByChannelID(frame.ChannelID)
	if !ok {
		var result channel.AdmitResult
		ch, result = e.table.Admit(frame.ChannelID, now)
		if result != channel.AdmitOK {
			slog.Warn("login admission failed", "devid", frame.ChannelID, "result", result)
			return
		}
	}

	fields := channel.EventLoginFields{TS: frame.Event.TS, VIN: frame.Event.VIN, DF: frame.Event.DF, SSI: frame.Event.SSI}
	e.table.Mutate(ch.ID, func(c *channel.Channel) {
		c.Login(fields, addr, now)
	})
	e.sendReply(ch.ID, protocol.EventLogin)
}

func (e *Engine) handleLogout(frame *protocol.Frame, now int64) {
	ch, ok := e.table.FindByChannelID(frame.ChannelID)
	if !ok {
		slog.Debug("logout for unknown channel", "id", frame.ChannelID)
		return
	}
	e.sendReply(ch.ID, protocol.EventLogout)
	e.table.Mutate(ch.ID, func(c *channel.Channel) {
		c.Logout(now)
	})
}

func (e *Engine) handlePing(frame *protocol.Frame, now int64) {
	ch, ok := e.table.FindByChannelID(frame.ChannelID)
	if !ok {
		slog.Debug("ping for unknown channel", "id", frame.ChannelID)
		return
	}
	e.sendReply(ch.ID, protocol.EventPing)
	e.table.Mutate(ch.ID, func(c *channel.Channel) {
		c.Ping(now)
	})
}

func (e *Engine) handleAck(frame *protocol.Frame) {
	if frame.Event.TK == 0 {
		return
	}
	if !e.dispatcher.Resolve(frame.ChannelID, frame.Event.TK, frame.Event.MSG) {
		slog.Debug("ack for unknown or expired command token", "id", frame.ChannelID, "token", frame.Event.TK)
	}
}

func (e *Engine) handleDataFrame(frame *protocol.Frame, addr *net.UDPAddr) {
	ch, ok := e.table.FindByChannelID(frame.ChannelID)
	if !ok {
		slog.Debug("data frame for unknown channel", "id", frame.ChannelID)
		return
	}

	var running bool
	e.table.View(ch.ID, func(c *channel.Channel) { running = c.IsRunning() })
	if !running {
		e.sendReply(ch.ID, protocol.EventReconnect)
		return
	}

	e.table.Mutate(ch.ID, func(c *channel.Channel) {
		payload.Process(frame.Pairs, len(frame.RawBody), c, e.clock)
		c.IPAddr = addr.IP.String()
	})

	var syncDue bool
	e.table.View(ch.ID, func(c *channel.Channel) {
		syncDue = e.clock.NowMillis()-c.ServerSyncTick >= e.syncInterval.Milliseconds()
	})
	if syncDue {
		e.table.Mutate(ch.ID, func(c *channel.Channel) { c.ServerSyncTick = e.clock.NowMillis() })
		e.sendReply(ch.ID, protocol.EventSync)
	}
}

// sendReply emits the standard reply frame. TxCount is bumped only after the
// send succeeds, so it counts frames actually emitted.
func (e *Engine) sendReply(channelID string, event int) {
	var peer *net.UDPAddr
	var recvCount, txCount uint64
	if !e.table.View(channelID, func(c *channel.Channel) {
		peer = c.UDPPeer
		recvCount = c.RecvCount
		txCount = c.TxCount
	}) {
		return
	}
	if peer == nil {
		return
	}

	reply := protocol.EncodeReply(channelID, event, recvCount, txCount+1)
	if _, err := e.conn.WriteToUDP([]byte(reply), peer); err != nil {
		slog.Warn("udp reply send failed", "id", channelID, "error", err)
		return
	}
	e.table.Mutate(channelID, func(c *channel.Channel) {
		c.TxCount++
	})
}

// SendCommand allocates a fresh token, sends EV=5 to the channel's last-seen
// UDP peer, and returns a wait function resolving when the matching ACK
// arrives (or the configured CommandTimeout elapses).
func (e *Engine) SendCommand(devid, cmd string) (token uint64, wait func() (string, error), err error) {
	var channelID string
	var peer *net.UDPAddr
	found := e.table.ViewByDevID(devid, func(c *channel.Channel) {
		channelID = c.ID
		peer = c.UDPPeer
	})
	if !found {
		return 0, nil, ErrUnknownDevice
	}
	if peer == nil {
		return 0, nil, ErrNoUDPPeer
	}

	e.table.MutateByDevID(devid, func(c *channel.Channel) {
		c.CmdCount++
		token = c.CmdCount
	})

	wait = e.dispatcher.Register(channelID, token)

	message := protocol.EncodeCommand(channelID, token, cmd)
	if _, err := e.conn.WriteToUDP([]byte(message), peer); err != nil {
		return token, wait, ErrCommandUnsent
	}
	return token, wait, nil
}
