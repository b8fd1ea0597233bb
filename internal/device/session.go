// Package device holds the console's view of the attached Remote-ID test
// device: what it last reported and what the operator is preparing to send.
package device

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/protocol"
)

var (
	// ErrBusy is returned while a store command is waiting for its ack.
	ErrBusy     = errors.New("device busy: store pending")
	ErrPathFull = errors.New("path is full")
	ErrNoOrigin = errors.New("no current position to anchor the path")
)

// Transport is the outbound half of the device link.
type Transport interface {
	Send(protocol.Frame) error
	Connected() bool
}

type Config struct {
	TrailMax    int
	TargetTTL   time.Duration
	MaxTargets  int
	LockTimeout time.Duration

	// MaxLegs caps the transmitted loop. It is clamped to the firmware table.
	MaxLegs int
	// LenientInflate drops an unpaired trailing path value instead of
	// rejecting the `$D` path.
	LenientInflate bool

	Now func() time.Time
}

// Snapshot is the session state served to the console.
type Snapshot struct {
	Connected   bool                   `json:"connected"`
	Version     int                    `json:"version,omitempty"`
	HasPosition bool                   `json:"has_position"`
	Position    protocol.Current       `json:"position"`
	HasProfile  bool                   `json:"has_profile"`
	Profile     protocol.Profile       `json:"profile"`
	Mode        protocol.Mode          `json:"mode"`
	Path        []geo.Coordinate       `json:"path"`
	Review      []geo.CombinedPathItem `json:"review"`
	Trail       []geo.Coordinate       `json:"trail"`
	Targets     []TargetView           `json:"targets"`
	Locked      bool                   `json:"locked"`
	Dirty       bool                   `json:"dirty"`
	LastFrameAt string                 `json:"last_frame_utc,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`

	// Options lists the enum values the profile form offers.
	Options map[string][]protocol.EnumOption `json:"options"`
}

// Session is the explicit device context shared by the link callback and the
// HTTP handlers. All methods are safe for concurrent use.
type Session struct {
	cfg     Config
	tx      Transport
	targets *TargetStore

	mu          sync.Mutex
	version     int
	hasPosition bool
	position    protocol.Current
	hasProfile  bool
	profile     protocol.Profile
	mode        protocol.Mode
	path        []geo.Coordinate
	trail       []geo.Coordinate
	dirty       bool
	lockedAt    time.Time
	lastFrameAt time.Time
	lastErr     string
}

func NewSession(cfg Config, tx Transport) (*Session, error) {
	if tx == nil {
		return nil, fmt.Errorf("session transport is nil")
	}
	if cfg.TrailMax <= 0 {
		cfg.TrailMax = 500
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 3 * time.Second
	}
	if cfg.MaxLegs <= 0 || cfg.MaxLegs > protocol.MaxPathLegs {
		cfg.MaxLegs = protocol.MaxPathLegs
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		cfg: cfg,
		tx:  tx,
		targets: NewTargetStore(TargetStoreConfig{
			MaxTargets: cfg.MaxTargets,
			TTL:        cfg.TargetTTL,
			TrailMax:   cfg.TrailMax,
		}),
		mode:    protocol.Mode{App: protocol.AppModeSim},
		profile: protocol.Profile{PestRadiusM: protocol.MinRadiusM, PestSpawnSec: protocol.DefaultSpawnSec},
		path:    []geo.Coordinate{},
		trail:   []geo.Coordinate{},
	}, nil
}

// HandleFrame applies one frame received from the device.
func (s *Session) HandleFrame(f protocol.Frame) error {
	now := s.cfg.Now().UTC()

	var err error
	resync := false

	switch f.Command {
	case protocol.CmdAck:
		s.mu.Lock()
		s.lockedAt = time.Time{}
		s.dirty = false
		s.mu.Unlock()
		resync = true
	case protocol.CmdVersion:
		var v protocol.Version
		if v, err = protocol.ParseVersion(f); err == nil {
			s.mu.Lock()
			s.version = v.Version
			s.mu.Unlock()
		}
	case protocol.CmdCurrent:
		var c protocol.Current
		if c, err = protocol.ParseCurrent(f); err == nil {
			s.mu.Lock()
			s.hasPosition = true
			s.position = c
			s.trail = appendBounded(s.trail, c.Position, s.cfg.TrailMax)
			s.mode.Fly = c.FlyMode
			s.mode.Path = c.PathMode
			s.mode.Speed = c.Speed
			s.mode.AltM = c.AltM
			s.mu.Unlock()
		}
	case protocol.CmdTarget:
		var t protocol.Target
		if t, err = protocol.ParseTarget(f); err == nil {
			s.targets.Upsert(now, t)
			s.mu.Lock()
			s.mode.Fly = t.FlyMode
			s.mu.Unlock()
		}
	case protocol.CmdData:
		var d protocol.Data
		if d, err = protocol.ParseData(f); err == nil {
			err = s.applyData(d)
		}
	case protocol.CmdUnknown:
		err = fmt.Errorf("device rejected command")
	default:
		err = fmt.Errorf("unhandled command $%s", f.Command)
	}

	s.mu.Lock()
	s.lastFrameAt = now
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("session frame=$%s err=%v", f.Command, err)
		return err
	}
	if resync {
		return s.requestState()
	}
	return nil
}

func (s *Session) applyData(d protocol.Data) error {
	var path []geo.Coordinate
	var pathErr error
	if d.PathCount != 0 {
		var legs []geo.Leg
		if s.cfg.LenientInflate {
			legs = geo.InflateLenient(d.Path)
			if len(d.Path)%2 != 0 {
				log.Printf("session dropped unpaired path value count=%d", len(d.Path))
			}
		} else {
			legs, pathErr = geo.Inflate(d.Path)
		}
		if pathErr == nil {
			var walked []geo.Coordinate
			if walked, pathErr = geo.DecodeChecked(d.Profile.Origin, legs); pathErr == nil {
				// The device stores the closed loop; its last leg returns to
				// the origin and is re-added on the next store.
				path = geo.OpenLoop(walked)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = d.Version
	s.profile = d.Profile
	if s.profile.PestSpawnSec == 0 {
		s.profile.PestSpawnSec = protocol.DefaultSpawnSec
	}
	s.hasProfile = true
	s.mode.App = d.Profile.AppMode
	if pathErr != nil {
		return fmt.Errorf("$D path: %w", pathErr)
	}
	if path == nil {
		path = []geo.Coordinate{}
	}
	s.path = path
	return nil
}

// Sync asks the device for its state, or re-sends the profile when local
// edits have not been acknowledged yet.
func (s *Session) Sync() error {
	s.mu.Lock()
	dirty := s.dirty && s.hasProfile
	p := s.profileLocked()
	s.mu.Unlock()

	if dirty {
		return s.sendStore(p.StoreFrame())
	}
	return s.requestState()
}

func (s *Session) requestState() error {
	if err := s.send(protocol.NewFrame(protocol.CmdData)); err != nil {
		return err
	}
	return s.send(protocol.NewFrame(protocol.CmdCurrent))
}

// AppendWaypoint adds c to the pending path.
func (s *Session) AppendWaypoint(c geo.Coordinate) error {
	if err := geo.Validate(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// The loop back to the origin costs one extra leg.
	if len(s.path)+2 > s.cfg.MaxLegs {
		return fmt.Errorf("%w: %d waypoints", ErrPathFull, len(s.path))
	}
	s.path = append(s.path, c)
	return nil
}

func (s *Session) ClearPath() {
	s.mu.Lock()
	s.path = []geo.Coordinate{}
	s.mu.Unlock()
}

// Loop returns the closed loop origin, waypoints..., origin that would be
// transmitted, or an empty slice when there is no path.
func (s *Session) Loop() []geo.Coordinate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopLocked()
}

// Review pairs every point of the loop with the leg that leaves it.
func (s *Session) Review() []geo.CombinedPathItem {
	return geo.Combine(s.Loop())
}

func (s *Session) loopLocked() []geo.Coordinate {
	origin, ok := s.originLocked()
	if !ok {
		return []geo.Coordinate{}
	}
	return geo.ClosedLoop(origin, s.path)
}

func (s *Session) originLocked() (geo.Coordinate, bool) {
	if s.hasPosition {
		return s.position.Position, true
	}
	if s.hasProfile {
		return s.profile.Origin, true
	}
	return geo.Coordinate{}, false
}

// ApplyPath transmits the pending path with the current modes.
func (s *Session) ApplyPath() error {
	s.mu.Lock()
	if s.lockedLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	if len(s.path) > 0 {
		if _, ok := s.originLocked(); !ok {
			s.mu.Unlock()
			return ErrNoOrigin
		}
	}
	m := s.storeModeLocked(s.mode)
	s.mu.Unlock()
	if len(m.Legs) > s.cfg.MaxLegs {
		return fmt.Errorf("%w: %d > %d", protocol.ErrTooManyLegs, len(m.Legs), s.cfg.MaxLegs)
	}
	return s.sendStoreMode(m)
}

// SetModes records m and transmits it together with the pending path.
func (s *Session) SetModes(m protocol.Mode) error {
	s.mu.Lock()
	if s.lockedLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mode = m
	sm := s.storeModeLocked(m)
	s.mu.Unlock()
	if len(sm.Legs) > s.cfg.MaxLegs {
		// The device drops an oversized path but still takes the modes.
		log.Printf("session path too long for mode store legs=%d max=%d: sending modes without path", len(sm.Legs), s.cfg.MaxLegs)
		sm.Waypoints = 0
		sm.Legs = nil
	}
	if m.App != protocol.AppModePest {
		s.targets.Clear()
	}
	return s.sendStoreMode(sm)
}

// MaxLegs is the longest loop the session will transmit.
func (s *Session) MaxLegs() int {
	return s.cfg.MaxLegs
}

func (s *Session) Mode() protocol.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) storeModeLocked(m protocol.Mode) protocol.StoreMode {
	return protocol.StoreMode{
		Mode:      m,
		Waypoints: len(s.path),
		Legs:      geo.Encode(s.loopLocked()),
	}
}

func (s *Session) sendStoreMode(m protocol.StoreMode) error {
	f, err := m.Frame()
	if err != nil {
		return err
	}
	return s.sendStore(f)
}

// StoreProfile writes p to the device. The app mode always follows the
// session's current mode.
func (s *Session) StoreProfile(p protocol.Profile) error {
	for name, c := range map[string]geo.Coordinate{"origin": p.Origin, "operator": p.OperatorPos, "pest origin": p.PestOrigin} {
		if err := geo.Validate(c); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return s.updateProfile(func(cur *protocol.Profile) {
		ext := cur.External
		*cur = p
		if cur.External == nil {
			cur.External = ext
		}
	})
}

func (s *Session) SetOrigin(c geo.Coordinate) error {
	if err := geo.Validate(c); err != nil {
		return err
	}
	return s.updateProfile(func(p *protocol.Profile) {
		p.Origin = c
		if s.hasPosition {
			s.position.Position = c
		}
	})
}

func (s *Session) SetOperator(c geo.Coordinate) error {
	if err := geo.Validate(c); err != nil {
		return err
	}
	return s.updateProfile(func(p *protocol.Profile) {
		p.OperatorPos = c
		if s.hasPosition {
			s.position.Operator = c
		}
	})
}

func (s *Session) SetPestOrigin(c geo.Coordinate) error {
	if err := geo.Validate(c); err != nil {
		return err
	}
	return s.updateProfile(func(p *protocol.Profile) { p.PestOrigin = c })
}

// SetPestRadiusStep selects one of protocol.RadiusSteps by 1-based step.
func (s *Session) SetPestRadiusStep(step int) error {
	return s.updateProfile(func(p *protocol.Profile) { p.PestRadiusM = protocol.RadiusForStep(step) })
}

// SetPestSpawn sets the pest spawn interval; zero selects the default.
func (s *Session) SetPestSpawn(sec int) error {
	if sec < 0 {
		return fmt.Errorf("pest spawn must be >= 0")
	}
	if sec == 0 {
		sec = protocol.DefaultSpawnSec
	}
	return s.updateProfile(func(p *protocol.Profile) { p.PestSpawnSec = sec })
}

// updateProfile applies fn under the lock, marks the profile dirty until the
// device acks, and sends `$SD`.
func (s *Session) updateProfile(fn func(p *protocol.Profile)) error {
	s.mu.Lock()
	if s.lockedLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	fn(&s.profile)
	s.dirty = true
	p := s.profileLocked()
	s.mu.Unlock()
	return s.sendStore(p.StoreFrame())
}

func (s *Session) profileLocked() protocol.Profile {
	p := s.profile
	p.AppMode = s.mode.App
	if p.External != nil {
		ext := *p.External
		p.External = &ext
	}
	return p
}

func (s *Session) Reboot() error {
	return s.send(protocol.NewFrame(protocol.CmdReboot))
}

func (s *Session) Snapshot() Snapshot {
	now := s.cfg.Now().UTC()
	targets := s.targets.Snapshot(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Connected:   s.tx.Connected(),
		Version:     s.version,
		HasPosition: s.hasPosition,
		Position:    s.position,
		HasProfile:  s.hasProfile,
		Profile:     s.profileLocked(),
		Mode:        s.mode,
		Path:        append([]geo.Coordinate{}, s.path...),
		Review:      geo.Combine(s.loopLocked()),
		Trail:       append([]geo.Coordinate{}, s.trail...),
		Targets:     targets,
		Locked:      s.lockedLocked(),
		Dirty:       s.dirty,
		LastError:   s.lastErr,
		Options: map[string][]protocol.EnumOption{
			"uatype": protocol.UATypeOptions(),
			"idtype": protocol.IDTypeOptions(),
		},
	}
	if !s.lastFrameAt.IsZero() {
		out.LastFrameAt = s.lastFrameAt.Format(time.RFC3339Nano)
	}
	return out
}

func (s *Session) lockedLocked() bool {
	return !s.lockedAt.IsZero() && s.cfg.Now().Sub(s.lockedAt) < s.cfg.LockTimeout
}

// sendStore sends a frame the device acks with `$%`, locking the session
// until the ack arrives or the lock times out.
func (s *Session) sendStore(f protocol.Frame) error {
	s.mu.Lock()
	s.lockedAt = s.cfg.Now()
	s.mu.Unlock()
	if err := s.send(f); err != nil {
		s.mu.Lock()
		s.lockedAt = time.Time{}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) send(f protocol.Frame) error {
	if err := s.tx.Send(f); err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		return err
	}
	return nil
}
