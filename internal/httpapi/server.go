// Package httpapi implements the operator-facing and device-facing HTTP
// surface: the notify/post/push bridges devices without a UDP stack can use,
// the channel listing/query endpoints dashboards poll, and the command
// dispatch bridge to the UDP engine.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"log/slog"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
	"telemetryhub/internal/payload"
	"telemetryhub/internal/protocol"
	"telemetryhub/internal/udpengine"
)

// CommandSender is the subset of udpengine.Engine the command endpoint needs.
type CommandSender interface {
	SendCommand(devid, cmd string) (token uint64, wait func() (string, error), err error)
}

// Server is the Echo application serving the /api routes.
type Server struct {
	echo  *echo.Echo
	table *channel.Table
	clock clock.Clock
	cmds  CommandSender
}

// New constructs an Echo app wired to table for all channel state and cmds
// for command dispatch.
func New(table *channel.Table, clk clock.Clock, cmds CommandSender) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{echo: e, table: table, clock: clk, cmds: cmds}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			slog.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

// jsonErrorHandler renders Echo-level errors in the {result:"failed",error}
// shape every other handler in this package uses, instead of Echo's default
// {"message":...} body.
func jsonErrorHandler(err error, c echo.Context) {
	status := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	if !c.Response().Committed {
		_ = c.JSON(status, failedResponse{Result: "failed", Error: msg})
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/api/test", s.handleTest)
	s.echo.GET("/api/notify", s.handleNotify)
	s.echo.POST("/api/notify", s.handleNotify)
	s.echo.GET("/api/post", s.handlePostGet)
	s.echo.POST("/api/post", s.handlePostBody)
	s.echo.GET("/api/push", s.handlePush)
	s.echo.GET("/api/channels", s.handleChannels)
	s.echo.GET("/api/get", s.handleGet)
	s.echo.GET("/api/command", s.handleCommand)
	s.echo.POST("/api/command", s.handleCommand)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

type failedResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func failed(c echo.Context, status int, reason string) error {
	return c.JSON(status, failedResponse{Result: "failed", Error: reason})
}

type testResponse struct {
	Date string `json:"date"`
	Time string `json:"time"`
	Tick int64  `json:"tick"`
}

func (s *Server) handleTest(c echo.Context) error {
	tick := s.clock.NowMillis()
	t := time.UnixMilli(tick).UTC()
	return c.JSON(http.StatusOK, testResponse{
		Date: t.Format("060102"),
		Time: t.Format("150405"),
		Tick: tick,
	})
}

type notifyResponse struct {
	ID     string `json:"id,omitempty"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleNotify(c echo.Context) error {
	devid := strings.TrimSpace(paramValue(c, "id"))
	evStr := paramValue(c, "EV")
	ev, err := strconv.Atoi(evStr)
	if err != nil {
		return failed(c, http.StatusBadRequest, "EV must be an integer")
	}

	now := s.clock.NowMillis()

	switch ev {
	case protocol.EventLogin:
		ch, result := s.table.Admit(devid, now)
		if result == channel.AdmitInvalidDevID {
			return failed(c, http.StatusForbidden, "invalid device id")
		}
		if result == channel.AdmitSaturated {
			return failed(c, http.StatusForbidden, "channel assignment failed")
		}
		ssi, _ := strconv.Atoi(paramValue(c, "SSI"))
		df, _ := strconv.Atoi(paramValue(c, "DF"))
		fields := channel.EventLoginFields{TS: now, VIN: paramValue(c, "VIN"), DF: df, SSI: ssi}
		s.table.Mutate(ch.ID, func(ch *channel.Channel) {
			ch.Login(fields, nil, now)
			ch.IPAddr = c.RealIP()
		})
		return c.JSON(http.StatusOK, notifyResponse{ID: ch.ID, Result: "done"})

	case protocol.EventLogout:
		if !s.table.MutateByDevID(devid, func(ch *channel.Channel) { ch.Logout(now) }) {
			return failed(c, http.StatusForbidden, "unknown channel")
		}
		return c.JSON(http.StatusOK, notifyResponse{Result: "done"})

	default:
		return failed(c, http.StatusBadRequest, "unsupported EV for notify")
	}
}

func (s *Server) handlePostGet(c echo.Context) error {
	devid := strings.TrimSpace(c.QueryParam("id"))
	ts := c.QueryParam("timestamp")
	if ts == "" {
		ts = strconv.FormatInt(s.clock.NowMillis(), 10)
	}

	var pairs []string
	pairs = append(pairs, "0:"+ts)
	addGPSPair(&pairs, protocol.PIDGPSLatitude, c.QueryParam("lat"))
	addGPSPair(&pairs, protocol.PIDGPSLongitude, c.QueryParam("lon"))
	addGPSPair(&pairs, protocol.PIDGPSAltitude, c.QueryParam("altitude"))
	addGPSPair(&pairs, protocol.PIDGPSSpeed, c.QueryParam("speed"))
	addGPSPair(&pairs, protocol.PIDGPSHeading, c.QueryParam("heading"))

	_, status, reason := s.processPayload(c, devid, strings.Join(pairs, ","))
	if status != http.StatusOK {
		return failed(c, status, reason)
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "OK"})
}

func addGPSPair(pairs *[]string, pid int, value string) {
	if value == "" {
		return
	}
	*pairs = append(*pairs, strconv.FormatInt(int64(pid), 16)+":"+value)
}

func (s *Server) handlePostBody(c echo.Context) error {
	devid := strings.TrimSpace(c.QueryParam("id"))
	if devid == "" {
		devid = strings.TrimSpace(c.FormValue("id"))
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failed(c, http.StatusBadRequest, "could not read request body")
	}

	count, status, reason := s.processPayload(c, devid, string(raw))
	if status != http.StatusOK {
		return failed(c, status, reason)
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "OK " + strconv.Itoa(count)})
}

func (s *Server) handlePush(c echo.Context) error {
	devid := strings.TrimSpace(c.QueryParam("id"))
	ts := c.QueryParam("ts")
	if ts == "" {
		return failed(c, http.StatusBadRequest, "ts is required")
	}

	var pairs []string
	pairs = append(pairs, "0:"+ts)
	for key, values := range c.QueryParams() {
		if key == "id" || key == "ts" || len(values) == 0 {
			continue
		}
		if _, ok := protocol.ParseHexPID(key); !ok {
			continue
		}
		pairs = append(pairs, key+":"+values[0])
	}

	count, status, reason := s.processPayload(c, devid, strings.Join(pairs, ","))
	if status != http.StatusOK {
		return failed(c, status, reason)
	}
	return c.JSON(http.StatusOK, map[string]int{"result": count})
}

// processPayload decodes line as a data-frame body and applies it to devid's
// channel via the payload processor, returning the HTTP status the caller
// should respond with: 400 for a body the codec can't parse at all, 403 for
// an unknown channel, 200 otherwise.
func (s *Server) processPayload(c echo.Context, devid, line string) (count, status int, reason string) {
	message := "X#" + line
	frame, err := protocol.Decode([]byte(message + "*" + protocol.FormatChecksum(protocol.Checksum(message))))
	if err != nil {
		return 0, http.StatusBadRequest, "malformed payload"
	}

	ok := s.table.MutateByDevID(devid, func(ch *channel.Channel) {
		count = payload.Process(frame.Pairs, len(line), ch, s.clock)
		ch.IPAddr = c.RealIP()
	})
	if !ok {
		return 0, http.StatusForbidden, "unknown channel"
	}
	return count, http.StatusOK, ""
}

type channelsResponse struct {
	Channels []channelEntry `json:"channels"`
}

type ageInfo struct {
	Data int64 `json:"data"`
	Ping int64 `json:"ping"`
}

type channelEntry struct {
	ID      string      `json:"id"`
	DevID   string      `json:"devid"`
	Recv    uint64      `json:"recv"`
	Rate    float64     `json:"rate"`
	Tick    int64       `json:"tick"`
	DevTick int64       `json:"devtick"`
	Elapsed int64       `json:"elapsed"`
	Age     ageInfo     `json:"age"`
	RSSI    int         `json:"rssi"`
	Flags   int         `json:"flags"`
	Parked  int         `json:"parked"`
	VIN     string      `json:"vin,omitempty"`
	IP      string      `json:"ip,omitempty"`
	Data    [][3]any    `json:"data,omitempty"`
}

func (s *Server) handleChannels(c echo.Context) error {
	if c.QueryParam("cmd") == "clear" {
		id := strings.TrimSpace(c.QueryParam("id"))
		if id == "" || !s.table.Evict(id) {
			return failed(c, http.StatusForbidden, "unknown channel")
		}
		return c.JSON(http.StatusOK, map[string]string{"result": "done"})
	}

	extend := c.QueryParam("extend") != ""
	withData := c.QueryParam("data") != ""

	if devid := strings.TrimSpace(c.QueryParam("devid")); devid != "" {
		snap, ok := s.table.SnapshotOne(devid)
		if !ok {
			return failed(c, http.StatusForbidden, "unknown channel")
		}
		return c.JSON(http.StatusOK, s.toEntry(snap, extend, withData))
	}

	snapshots := s.table.Snapshot()
	entries := make([]channelEntry, 0, len(snapshots))
	for _, snap := range snapshots {
		entries = append(entries, s.toEntry(snap, extend, withData))
	}
	return c.JSON(http.StatusOK, channelsResponse{Channels: entries})
}

func (s *Server) toEntry(snap channel.Snapshot, extend, withData bool) channelEntry {
	now := s.clock.NowMillis()
	parked := 0
	if snap.Flags&channel.RUNNING == 0 {
		parked = 1
	}
	entry := channelEntry{
		ID:      snap.ID,
		DevID:   snap.DevID,
		Recv:    snap.RecvCount,
		Rate:    snap.SampleRate,
		Tick:    snap.ServerDataTick,
		DevTick: snap.DeviceTick,
		Elapsed: snap.Elapsed,
		Age:     ageInfo{Data: now - snap.ServerDataTick, Ping: now - snap.ServerPingTick},
		RSSI:    snap.RSSI,
		Flags:   snap.DevFlags,
		Parked:  parked,
	}
	if extend {
		entry.VIN = snap.VIN
		entry.IP = snap.IPAddr
	}
	if withData {
		entry.Data = make([][3]any, 0, len(snap.Data))
		for _, dp := range snap.Data {
			entry.Data = append(entry.Data, [3]any{dp.PID, dp.Value, now - dp.TS})
		}
	}
	return entry
}

type getResponse struct {
	Stats channelEntry `json:"stats"`
	Data  [][3]any     `json:"data"`
}

func (s *Server) handleGet(c echo.Context) error {
	devid := strings.TrimSpace(c.QueryParam("id"))
	snap, ok := s.table.SnapshotOne(devid)
	if !ok {
		return failed(c, http.StatusForbidden, "unknown channel")
	}

	entry := s.toEntry(snap, true, false)
	now := s.clock.NowMillis()
	data := make([][3]any, 0, len(snap.Data))
	for _, dp := range snap.Data {
		data = append(data, [3]any{dp.PID, dp.Value, now - dp.TS})
	}
	return c.JSON(http.StatusOK, getResponse{Stats: entry, Data: data})
}

type commandResponse struct {
	Result string `json:"result"`
	Token  uint64 `json:"token,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleCommand(c echo.Context) error {
	devid := strings.TrimSpace(paramValue(c, "id"))
	cmd := strings.TrimSpace(paramValue(c, "cmd"))
	if devid == "" || cmd == "" {
		return failed(c, http.StatusBadRequest, "id and cmd are required")
	}

	token, _, err := s.cmds.SendCommand(devid, cmd)
	if err != nil {
		return c.JSON(http.StatusOK, commandResponse{Result: "failed", Error: commandErrorReason(err)})
	}
	return c.JSON(http.StatusOK, commandResponse{Result: "pending", Token: token})
}

func commandErrorReason(err error) string {
	switch {
	case errors.Is(err, udpengine.ErrUnknownDevice):
		return "unknown device"
	case errors.Is(err, udpengine.ErrNoUDPPeer):
		return "Device not connected via UDP"
	case errors.Is(err, udpengine.ErrCommandUnsent):
		return "Command unsent"
	default:
		return err.Error()
	}
}

func paramValue(c echo.Context, key string) string {
	if v := c.QueryParam(key); v != "" {
		return v
	}
	return c.FormValue(key)
}
