package irc

import (
	"errors"
	"testing"
	"time"
)

func TestInitialDelayDefaultsAndOverrides(t *testing.T) {
	if got := initialDelay(ConnectionParams{ReconnectSeconds: 0}); got != 10*time.Second {
		t.Errorf("zero ReconnectSeconds: got %v, want 10s fallback", got)
	}
	if got := initialDelay(ConnectionParams{ReconnectSeconds: 5}); got != 5*time.Second {
		t.Errorf("ReconnectSeconds=5: got %v, want 5s", got)
	}
}

func TestScheduleReconnectDoublesDelayUpToCeiling(t *testing.T) {
	d := NewDefaultSupervisor()
	// A short delay keeps this test fast; the dial against a closed local
	// port fails immediately, so scheduleReconnect's own time.Sleep is the
	// only thing the test waits on.
	d.sessions["srv"] = &supervisedSession{
		params: NewConnectionParams("alice", "127.0.0.1", 1),
		delay:  10 * time.Millisecond,
	}

	before := d.sessions["srv"].delay
	d.scheduleReconnect("srv", errors.New("boom"))

	d.mu.Lock()
	after := d.sessions["srv"].delay
	d.mu.Unlock()

	if after <= before {
		t.Errorf("delay did not grow: before=%v after=%v", before, after)
	}
	if after > maxReconnectDelay {
		t.Errorf("delay exceeded ceiling: %v > %v", after, maxReconnectDelay)
	}
}

func TestDisconnectMarksStoppedAndSkipsReconnect(t *testing.T) {
	d := NewDefaultSupervisor()
	d.sessions["srv"] = &supervisedSession{
		params: NewConnectionParams("alice", "127.0.0.1", 1),
		delay:  1 * time.Second,
	}

	d.Disconnect("srv")

	d.mu.Lock()
	stopped := d.sessions["srv"].stopped
	d.mu.Unlock()
	if !stopped {
		t.Fatal("expected Disconnect to mark the supervised session stopped")
	}

	// A late Disconnected callback (e.g. racing with the explicit
	// Disconnect above) must not revive it.
	d.scheduleReconnect("srv", errors.New("late callback"))
	d.mu.Lock()
	delay := d.sessions["srv"].delay
	d.mu.Unlock()
	if delay != 1*time.Second {
		t.Errorf("stopped session's delay should be untouched, got %v", delay)
	}
}
