package command

import (
	"testing"
	"time"
)

func TestResolveDeliversMessageToWaiter(t *testing.T) {
	d := New(time.Second)
	wait := d.Register("CH1", 1)

	if !d.Resolve("CH1", 1, "OK") {
		t.Fatal("Resolve returned false for a registered token")
	}

	msg, err := wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if msg != "OK" {
		t.Errorf("msg = %q, want OK", msg)
	}
}

func TestResolveIgnoresUnknownToken(t *testing.T) {
	d := New(time.Second)
	if d.Resolve("CH1", 99, "OK") {
		t.Error("Resolve returned true for an unregistered token")
	}
}

func TestWaitTimesOutWithoutAck(t *testing.T) {
	d := New(5 * time.Millisecond)
	wait := d.Register("CH1", 1)

	_, err := wait()
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestResolveAfterTimeoutIsNoop(t *testing.T) {
	d := New(5 * time.Millisecond)
	wait := d.Register("CH1", 1)
	if _, err := wait(); err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if d.Resolve("CH1", 1, "late") {
		t.Error("Resolve returned true after the pending entry expired and was cleared")
	}
}

func TestDistinctTokensPerChannelDoNotCollide(t *testing.T) {
	d := New(time.Second)
	wait1 := d.Register("CH1", 1)
	wait2 := d.Register("CH2", 1)

	d.Resolve("CH1", 1, "for-ch1")
	d.Resolve("CH2", 1, "for-ch2")

	msg1, _ := wait1()
	msg2, _ := wait2()
	if msg1 != "for-ch1" || msg2 != "for-ch2" {
		t.Errorf("got %q, %q; tokens across channels collided", msg1, msg2)
	}
}
