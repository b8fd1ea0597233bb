package device

import (
	"sort"
	"sync"
	"time"

	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/protocol"
)

type TargetStoreConfig struct {
	// MaxTargets limits memory use. When exceeded, the least recently seen
	// targets are evicted.
	MaxTargets int
	// TTL controls how long a target is kept without updates.
	TTL time.Duration
	// TrailMax bounds the per-target position history.
	TrailMax int
}

// TargetView is one intercepted Remote-ID broadcaster as shown in the console.
type TargetView struct {
	protocol.Target
	Trail      []geo.Coordinate `json:"trail"`
	LastSeenAt string           `json:"last_seen_utc"`
	AgeSec     float64          `json:"age_sec"`
}

// TargetStore keeps intercepted targets keyed by MAC.
type TargetStore struct {
	mu sync.Mutex

	cfg TargetStoreConfig

	targets map[string]*target
}

type target struct {
	report protocol.Target
	trail  []geo.Coordinate
	seenAt time.Time
}

func NewTargetStore(cfg TargetStoreConfig) *TargetStore {
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.TrailMax <= 0 {
		cfg.TrailMax = 200
	}
	return &TargetStore{
		cfg:     cfg,
		targets: make(map[string]*target),
	}
}

func (s *TargetStore) Upsert(nowUTC time.Time, t protocol.Target) {
	if s == nil || t.MAC == "" {
		return
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.targets[t.MAC]
	if !ok {
		cur = &target{}
		s.targets[t.MAC] = cur
	}
	cur.report = t
	cur.seenAt = nowUTC.UTC()
	cur.trail = appendBounded(cur.trail, t.Position, s.cfg.TrailMax)

	for len(s.targets) > s.cfg.MaxTargets {
		var oldestMAC string
		var oldestAt time.Time
		first := true
		for k, v := range s.targets {
			if first || v.seenAt.Before(oldestAt) {
				oldestMAC = k
				oldestAt = v.seenAt
				first = false
			}
		}
		delete(s.targets, oldestMAC)
	}
}

// Clear drops every target, e.g. when the device leaves pest mode.
func (s *TargetStore) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.targets = make(map[string]*target)
	s.mu.Unlock()
}

func (s *TargetStore) Snapshot(nowUTC time.Time) []TargetView {
	if s == nil {
		return nil
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	nowUTC = nowUTC.UTC()

	s.mu.Lock()
	cutoff := nowUTC.Add(-s.cfg.TTL)
	out := make([]TargetView, 0, len(s.targets))
	for k, v := range s.targets {
		if v.seenAt.Before(cutoff) {
			delete(s.targets, k)
			continue
		}
		out = append(out, TargetView{
			Target:     v.report,
			Trail:      append([]geo.Coordinate(nil), v.trail...),
			LastSeenAt: v.seenAt.Format(time.RFC3339Nano),
			AgeSec:     nowUTC.Sub(v.seenAt).Seconds(),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

func appendBounded(trail []geo.Coordinate, c geo.Coordinate, max int) []geo.Coordinate {
	trail = append(trail, c)
	if max > 0 && len(trail) > max {
		trail = append(trail[:0], trail[len(trail)-max:]...)
	}
	return trail
}
