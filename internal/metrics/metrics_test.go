package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Presses.WithLabelValues("1").Inc()
	m.Toggles.WithLabelValues("1").Inc()
	m.RemoteCommands.WithLabelValues("1", "mqtt").Inc()
	m.Publishes.WithLabelValues("1", "change").Inc()
	m.PublishErrors.WithLabelValues("1").Inc()
	m.SetState(1, true)
	m.DispatchPanics.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 7 {
		t.Errorf("expected 7 metric families, got %d", len(families))
	}
}

func TestSetState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetState(2, true)
	if v := testutil.ToFloat64(m.State.WithLabelValues("2")); v != 1 {
		t.Errorf("state on: got %v, want 1", v)
	}
	m.SetState(2, false)
	if v := testutil.ToFloat64(m.State.WithLabelValues("2")); v != 0 {
		t.Errorf("state off: got %v, want 0", v)
	}
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
