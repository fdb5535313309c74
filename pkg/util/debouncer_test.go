package util

import (
	"testing"
	"time"
)

func TestDebouncer(t *testing.T) {
	t.Run("idle debouncer never fires", func(t *testing.T) {
		d := NewDebouncer()
		defer d.Stop()

		select {
		case <-d.C():
			t.Fatal("idle debouncer fired")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("fires after reset", func(t *testing.T) {
		d := NewDebouncer()
		defer d.Stop()

		d.ResetTo(50 * time.Millisecond)

		select {
		case <-d.C():
		case <-time.After(time.Second):
			t.Fatal("debouncer did not fire within expected time")
		}
	})

	t.Run("reset to replaces earlier deadline", func(t *testing.T) {
		d := NewDebouncer()
		defer d.Stop()

		d.ResetTo(30 * time.Millisecond)
		d.ResetTo(300 * time.Millisecond)

		select {
		case <-d.C():
			t.Fatal("first deadline was not replaced")
		case <-time.After(150 * time.Millisecond):
		}

		select {
		case <-d.C():
		case <-time.After(time.Second):
			t.Fatal("replacement deadline did not fire")
		}
	})

	t.Run("stop prevents firing", func(t *testing.T) {
		d := NewDebouncer()
		d.ResetTo(50 * time.Millisecond)
		d.Stop()

		select {
		case <-d.C():
			t.Fatal("debouncer fired after stop")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("reset after stop is no-op", func(t *testing.T) {
		d := NewDebouncer()
		d.Stop()

		d.ResetTo(10 * time.Millisecond)

		select {
		case <-d.C():
			t.Fatal("debouncer fired after stop and reset")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("multiple stops are safe", func(t *testing.T) {
		d := NewDebouncer()

		d.Stop()
		d.Stop()
		d.Stop()
	})
}
