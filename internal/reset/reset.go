// Package reset pulses the device's EN (reset) line from a host GPIO, for
// boards whose USB bridge does not expose DTR/RTS auto-reset.
package reset

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

type Config struct {
	// GPIO is the BCM line number wired to the board's EN pin.
	GPIO  int
	Pulse time.Duration
}

// outputLine is a requested GPIO output.
type outputLine interface {
	SetValue(v int) error
	Close() error
}

type Pulser struct {
	cfg Config

	mu   sync.Mutex
	open func(pin int) (outputLine, error)
}

func New(cfg Config) (*Pulser, error) {
	if cfg.GPIO <= 0 {
		return nil, fmt.Errorf("reset: invalid gpio pin %d", cfg.GPIO)
	}
	if cfg.Pulse <= 0 {
		cfg.Pulse = 100 * time.Millisecond
	}
	return &Pulser{cfg: cfg, open: openLineFn}, nil
}

// Pulse holds EN low for the configured duration and then releases it. The
// line is only requested for the length of the pulse.
func (p *Pulser) Pulse(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("reset: not configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	line, err := p.open(p.cfg.GPIO)
	if err != nil {
		return err
	}
	defer line.Close()

	if err := line.SetValue(0); err != nil {
		return fmt.Errorf("reset: drive low: %w", err)
	}
	log.Printf("reset pulse gpio=%d dur=%s", p.cfg.GPIO, p.cfg.Pulse)

	t := time.NewTimer(p.cfg.Pulse)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}

	// Always release, even when cancelled, so the board is not left in reset.
	if err := line.SetValue(1); err != nil {
		return fmt.Errorf("reset: release: %w", err)
	}
	return ctx.Err()
}
