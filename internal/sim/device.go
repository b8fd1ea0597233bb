// Package sim emulates the Remote-ID test device on the far side of the
// serial link, so the console can run without hardware.
package sim

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/protocol"
)

const (
	firmwareVersion = 1008

	// Heading jitter applied per step in random path mode.
	maxDirChange = 75.0

	maxPests = 8
)

// errReboot asks Serve to drop the connection like a restarting board.
var errReboot = errors.New("device rebooting")

type Config struct {
	Origin   geo.Coordinate
	SpeedMps int
	AltM     int
	Tick     time.Duration
	Seed     int64
	Now      func() time.Time
}

// Device is the emulated firmware state. Handle and Step are the whole
// protocol surface; Serve wires them to a byte stream.
type Device struct {
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	profile protocol.Profile
	mode    protocol.Mode
	legs    []geo.Leg

	pos     geo.Coordinate
	heading int

	legIndex   int
	legActive  bool
	legStart   geo.Coordinate
	legStartAt time.Time
	lastStep   time.Time

	pests     []pest
	lastSpawn time.Time
}

type pest struct {
	mac     string
	pos     geo.Coordinate
	heading int
}

func New(cfg Config) (*Device, error) {
	if err := geo.Validate(cfg.Origin); err != nil {
		return nil, fmt.Errorf("sim origin: %w", err)
	}
	if cfg.SpeedMps < 0 {
		return nil, fmt.Errorf("sim speed must be >= 0")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	d := &Device{
		cfg: cfg,
		rng: rng,
		profile: protocol.Profile{
			RemoteID:     "SQUIDRID",
			Operator:     "SIM",
			Description:  "EMULATED",
			UAType:       protocol.UATypeHelicopterOrMultirotor,
			IDType:       protocol.IDTypeSerialNumber,
			Origin:       cfg.Origin,
			AltM:         cfg.AltM,
			OperatorPos:  cfg.Origin,
			Speed:        cfg.SpeedMps,
			Satellites:   12,
			PestOrigin:   cfg.Origin,
			PestRadiusM:  1500,
			PestSpawnSec: protocol.DefaultSpawnSec,
			External:     &protocol.External{},
		},
		mode: protocol.Mode{App: protocol.AppModeSim, Speed: cfg.SpeedMps, AltM: cfg.AltM},
		pos:  cfg.Origin,
	}
	d.profile.MAC = randomMAC(rng)
	return d, nil
}

// Handle processes one command line and returns the reply lines, without
// terminators.
func (d *Device) Handle(line string, now time.Time) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	f, err := protocol.Parse(line)
	if err != nil {
		return []string{unknownLine()}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch f.Command {
	case protocol.CmdVersion:
		return []string{protocol.Version{Version: firmwareVersion}.Frame().String()}, nil
	case protocol.CmdCurrent:
		return d.reportLocked(), nil
	case protocol.CmdData:
		return []string{d.dataLocked().Frame().String()}, nil
	case protocol.CmdStoreData:
		p, err := protocol.ParseStoreData(f)
		if err != nil {
			// The firmware silently ignores short or garbled stores.
			log.Printf("sim store data ignored: %v", err)
			return nil, nil
		}
		d.storeProfileLocked(p)
		return []string{ackLine()}, nil
	case protocol.CmdStoreMode:
		if len(f.Fields) < 6 {
			return nil, nil
		}
		d.storeModeLocked(f, now)
		return []string{ackLine()}, nil
	case protocol.CmdReboot:
		d.rebootLocked()
		return nil, errReboot
	default:
		return []string{unknownLine()}, nil
	}
}

func (d *Device) storeProfileLocked(p protocol.Profile) {
	if p.External == nil {
		p.External = d.profile.External
	}
	d.profile = p
	d.mode.App = p.AppMode
	d.mode.Speed = p.Speed
	d.mode.AltM = p.AltM
	if p.PestSpawnSec <= 0 {
		d.profile.PestSpawnSec = protocol.DefaultSpawnSec
	}

	// Storing the origin moves the aircraft back to it.
	d.pos = p.Origin
	d.resetPathLocked()
}

func (d *Device) storeModeLocked(f protocol.Frame, now time.Time) {
	m, err := protocol.ParseStoreMode(f, true)
	if errors.Is(err, protocol.ErrTooManyLegs) {
		// Oversized paths clear the table but the modes still apply.
		m, err = protocol.ParseStoreMode(protocol.NewFrame(f.Command, f.Fields[:6]...), true)
	}
	if err != nil {
		log.Printf("sim store mode ignored: %v", err)
		return
	}

	prevApp := d.mode.App
	d.mode = m.Mode
	d.profile.AppMode = m.App
	d.profile.Speed = m.Speed
	d.profile.AltM = m.AltM
	d.legs = append([]geo.Leg(nil), m.Legs...)
	d.resetPathLocked()
	d.lastStep = now

	if m.App != protocol.AppModePest {
		d.pests = nil
	} else if prevApp != protocol.AppModePest {
		d.lastSpawn = time.Time{}
	}
}

func (d *Device) resetPathLocked() {
	d.legIndex = 0
	d.legActive = false
	d.legStart = d.pos
}

func (d *Device) rebootLocked() {
	d.mode.Fly = protocol.FlyModePause
	d.pos = d.profile.Origin
	d.pests = nil
	d.resetPathLocked()
}

// Step advances the simulation to now and returns the periodic report lines.
func (d *Device) Step(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastStep.IsZero() {
		d.lastStep = now
	}
	dt := now.Sub(d.lastStep)
	d.lastStep = now

	if d.mode.Fly == protocol.FlyModeFly {
		switch d.mode.Path {
		case protocol.PathModeFollow:
			d.followLocked(now)
		case protocol.PathModeRandom:
			d.pos, d.heading = d.wander(d.pos, d.heading, dt)
		}
	}
	if d.mode.App == protocol.AppModePest {
		d.pestLocked(now, dt)
	}
	return d.reportLocked()
}

// followLocked walks the stored legs at the configured speed, starting each
// leg from where the previous one ended and wrapping after the last.
func (d *Device) followLocked(now time.Time) {
	if len(d.legs) == 0 {
		return
	}
	if d.legIndex >= len(d.legs) {
		d.legIndex = 0
	}
	leg := d.legs[d.legIndex]
	if !d.legActive {
		d.legActive = true
		d.legStart = d.pos
		d.legStartAt = now
		d.heading = ((leg.Heading % 360) + 360) % 360
	}

	traveled := int(float64(d.speedLocked()) * now.Sub(d.legStartAt).Seconds())
	reached := traveled >= leg.Distance
	if reached {
		traveled = leg.Distance
	}
	d.pos = geo.Destination(d.legStart, float64(d.heading), float64(traveled))

	if reached {
		d.legActive = false
		d.legIndex = (d.legIndex + 1) % len(d.legs)
	}
}

func (d *Device) wander(from geo.Coordinate, heading int, dt time.Duration) (geo.Coordinate, int) {
	ran := 0.001 * float64(d.rng.Intn(1000)-500)
	heading = (heading + int(maxDirChange*ran) + 360) % 360
	dist := float64(d.speedLocked()) * dt.Seconds()
	return geo.Destination(from, float64(heading), dist), heading
}

func (d *Device) speedLocked() int {
	if d.mode.Speed > 0 {
		return d.mode.Speed
	}
	return d.cfg.SpeedMps
}

func (d *Device) pestLocked(now time.Time, dt time.Duration) {
	spawn := time.Duration(d.profile.PestSpawnSec) * time.Second
	if d.lastSpawn.IsZero() || now.Sub(d.lastSpawn) >= spawn {
		d.lastSpawn = now
		radius := float64(protocol.MinRadiusM)
		if d.profile.PestRadiusM > 0 {
			radius = float64(d.profile.PestRadiusM)
		}
		p := pest{
			mac:     randomMAC(d.rng),
			pos:     geo.Destination(d.profile.PestOrigin, d.rng.Float64()*360, d.rng.Float64()*radius),
			heading: d.rng.Intn(360),
		}
		d.pests = append(d.pests, p)
		if len(d.pests) > maxPests {
			d.pests = d.pests[len(d.pests)-maxPests:]
		}
	}
	if d.mode.Fly != protocol.FlyModeFly {
		return
	}
	for i := range d.pests {
		d.pests[i].pos, d.pests[i].heading = d.wander(d.pests[i].pos, d.pests[i].heading, dt)
	}
}

// reportLocked renders what the firmware prints for `$C`: the aircraft in sim
// mode or one `$T` per pest in pest mode.
func (d *Device) reportLocked() []string {
	switch d.mode.App {
	case protocol.AppModeSim:
		c := protocol.Current{
			Position:     d.pos,
			Operator:     d.profile.OperatorPos,
			AltM:         d.mode.AltM,
			OperatorAltM: d.profile.OperatorAltM,
			Speed:        d.mode.Speed,
			Heading:      d.heading,
			Satellites:   d.profile.Satellites,
			FlyMode:      d.mode.Fly,
			PathMode:     d.mode.Path,
		}
		return []string{c.Frame().String()}
	case protocol.AppModePest:
		out := make([]string, 0, len(d.pests))
		for _, p := range d.pests {
			t := protocol.Target{
				Position:    p.pos,
				AltM:        d.mode.AltM,
				Speed:       d.mode.Speed,
				Heading:     p.heading,
				MAC:         p.mac,
				RemoteID:    d.profile.RemoteID,
				Operator:    d.profile.Operator,
				Description: d.profile.Description,
				UAType:      d.profile.UAType,
				IDType:      d.profile.IDType,
				FlyMode:     d.mode.Fly,
			}
			out = append(out, t.Frame().String())
		}
		return out
	default:
		return nil
	}
}

func (d *Device) dataLocked() protocol.Data {
	p := d.profile
	if p.External != nil {
		ext := *p.External
		p.External = &ext
	}
	return protocol.Data{
		Version:   firmwareVersion,
		Profile:   p,
		PathCount: len(d.legs),
		Path:      geo.Flatten(d.legs),
	}
}

// Position returns the emulated aircraft position.
func (d *Device) Position() geo.Coordinate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func ackLine() string     { return protocol.NewFrame(protocol.CmdAck).String() }
func unknownLine() string { return protocol.NewFrame(protocol.CmdUnknown).String() }

// randomMAC mirrors the firmware: random bytes with the multicast bit cleared.
func randomMAC(rng *rand.Rand) string {
	var b [6]byte
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	b[0] &^= 0x01
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
