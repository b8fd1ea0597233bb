package web

import (
	"time"

	"squidrid-ng/internal/device"
	"squidrid-ng/internal/link"
	"squidrid-ng/internal/udp"
)

// LinkReporter exposes the transport's health.
type LinkReporter interface {
	Snapshot() link.Snapshot
}

// TelemetryReporter exposes forwarder counters.
type TelemetryReporter interface {
	Stats() udp.Stats
}

type Status struct {
	start     time.Time
	source    string
	link      LinkReporter
	session   *device.Session
	telemetry TelemetryReporter
}

// NewStatus describes the running console. source is "serial" or "sim".
// telemetry may be nil when forwarding is disabled.
func NewStatus(source string, l LinkReporter, sess *device.Session, telemetry TelemetryReporter) *Status {
	return &Status{
		start:     time.Now().UTC(),
		source:    source,
		link:      l,
		session:   sess,
		telemetry: telemetry,
	}
}

type StatusSnapshot struct {
	Service   string           `json:"service"`
	NowUTC    string           `json:"now_utc"`
	UptimeSec int64            `json:"uptime_sec"`
	Source    string           `json:"source"`
	Link      *link.Snapshot   `json:"link,omitempty"`
	Device    *device.Snapshot `json:"device,omitempty"`
	Telemetry *udp.Stats       `json:"telemetry,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	snap := StatusSnapshot{
		Service:   "squidrid-ng",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(s.start).Seconds()),
		Source:    s.source,
	}
	if s.link != nil {
		ls := s.link.Snapshot()
		snap.Link = &ls
	}
	if s.session != nil {
		ds := s.session.Snapshot()
		snap.Device = &ds
	}
	if s.telemetry != nil {
		ts := s.telemetry.Stats()
		snap.Telemetry = &ts
	}
	return snap
}
