package reset

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLine struct {
	values []int
	closed bool
	setErr error
}

func (l *fakeLine) SetValue(v int) error {
	if l.setErr != nil {
		return l.setErr
	}
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

func newTestPulser(t *testing.T, fl *fakeLine, pulse time.Duration) *Pulser {
	t.Helper()
	p, err := New(Config{GPIO: 17, Pulse: pulse})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.open = func(pin int) (outputLine, error) {
		if pin != 17 {
			t.Fatalf("pin=%d want 17", pin)
		}
		return fl, nil
	}
	return p
}

func TestNew_RejectsBadPin(t *testing.T) {
	if _, err := New(Config{GPIO: 0}); err == nil {
		t.Fatalf("expected error for gpio 0")
	}
}

func TestPulse_LowThenHigh(t *testing.T) {
	fl := &fakeLine{}
	p := newTestPulser(t, fl, time.Millisecond)

	if err := p.Pulse(context.Background()); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if len(fl.values) != 2 || fl.values[0] != 0 || fl.values[1] != 1 {
		t.Fatalf("values=%v want [0 1]", fl.values)
	}
	if !fl.closed {
		t.Fatalf("line not released")
	}
}

func TestPulse_CancelStillReleases(t *testing.T) {
	fl := &fakeLine{}
	p := newTestPulser(t, fl, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Pulse(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if len(fl.values) != 2 || fl.values[1] != 1 {
		t.Fatalf("values=%v want release", fl.values)
	}
}

func TestPulse_OpenError(t *testing.T) {
	p, err := New(Config{GPIO: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantErr := errors.New("busy")
	p.open = func(int) (outputLine, error) { return nil, wantErr }

	if err := p.Pulse(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestPulse_SetError(t *testing.T) {
	fl := &fakeLine{setErr: errors.New("ebusy")}
	p := newTestPulser(t, fl, time.Millisecond)
	if err := p.Pulse(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if !fl.closed {
		t.Fatalf("line not closed after error")
	}
}
