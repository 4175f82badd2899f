package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/command"
)

func TestRunMetricsLogsWhenActive(t *testing.T) {
	tbl := channel.New(10, nil)
	tbl.Admit("ABCD1234", 0)
	dispatcher := command.New(time.Second)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, tbl, dispatcher, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	output := buf.String()
	if !strings.Contains(output, "telemetry hub metrics") {
		t.Errorf("expected metrics log output, got: %q", output)
	}
	if !strings.Contains(output, "channels=1") {
		t.Errorf("expected channels=1 in output, got: %q", output)
	}
}

func TestRunMetricsSilentWhenEmpty(t *testing.T) {
	tbl := channel.New(10, nil)
	dispatcher := command.New(time.Second)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, tbl, dispatcher, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(buf.String(), "telemetry hub metrics") {
		t.Errorf("expected no output for empty table, got: %q", buf.String())
	}
}

func TestRunMetricsStopsOnCancel(t *testing.T) {
	tbl := channel.New(10, nil)
	dispatcher := command.New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, tbl, dispatcher, 50*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunMetrics did not exit after cancel")
	}
}
