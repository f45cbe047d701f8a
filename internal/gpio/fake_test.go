package gpio

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFakeOutputRecordsWrites(t *testing.T) {
	f := NewFakeDriver()

	out, err := f.Output(32, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.ActiveLow[32] {
		t.Error("expected active-low to be recorded")
	}

	if err := out.Set(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Set(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []bool{false, true, false}
	got := f.Writes[32]
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: got %v, want %v", i, got[i], want[i])
		}
	}

	if f.Count(32) != 2 {
		t.Errorf("expected 2 writes after initial, got %d", f.Count(32))
	}
	if last, ok := f.Last(32); !ok || last {
		t.Errorf("Last: got (%v, %v), want (false, true)", last, ok)
	}
}

func TestFakeOutputError(t *testing.T) {
	f := NewFakeDriver()
	out, _ := f.Output(12, false, false)
	f.OutputError = errors.New("simulated error")

	if err := out.Set(true); err == nil || err.Error() != "simulated error" {
		t.Errorf("expected simulated error, got %v", err)
	}
	if f.Count(12) != 0 {
		t.Error("failed write should not be recorded")
	}
}

func TestFakeDuplicatePin(t *testing.T) {
	f := NewFakeDriver()
	if _, err := f.Output(12, false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Output(12, false, false); err == nil {
		t.Error("expected error requesting the same output twice")
	}
	if err := f.WatchInput(12, func(Edge) {}); err == nil {
		t.Error("expected error watching a pin used as output")
	}
	if err := f.WatchInput(16, func(Edge) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Output(16, false, false); err == nil {
		t.Error("expected error requesting a watched input as output")
	}
}

func TestFakeInjectEdges(t *testing.T) {
	f := NewFakeDriver()

	var edges []Edge
	if err := f.WatchInput(16, func(e Edge) { edges = append(edges, e) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Press(16, t0)
	f.Release(16, t0.Add(100*time.Millisecond))

	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if !edges[0].Level || edges[1].Level {
		t.Errorf("expected press then release, got %+v", edges)
	}
	if edges[0].Pin != 16 || !edges[1].Time.Equal(t0.Add(100*time.Millisecond)) {
		t.Errorf("unexpected edge fields: %+v", edges)
	}

	if err := f.Press(17, t0); err == nil {
		t.Error("expected error injecting on an unwatched pin")
	}
}

func TestFakeFree(t *testing.T) {
	f := NewFakeDriver()
	if _, err := f.Output(32, true, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.WatchInput(16, func(Edge) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.Free(32); err != nil {
		t.Fatalf("Free(32): %v", err)
	}
	if err := f.Free(16); err != nil {
		t.Fatalf("Free(16): %v", err)
	}
	if err := f.Free(16); err == nil {
		t.Error("expected error freeing a pin twice")
	}
	if err := f.Press(16, t0); err == nil {
		t.Error("expected Press on a freed input to fail")
	}
	if _, err := f.Output(32, true, false); err != nil {
		t.Errorf("freed pin should be requestable again: %v", err)
	}
	if len(f.Freed) != 2 || f.Freed[0] != 32 || f.Freed[1] != 16 {
		t.Errorf("Freed: got %v, want [32 16]", f.Freed)
	}
}

func TestFakeClose(t *testing.T) {
	f := NewFakeDriver()

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}
