package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"squidrid-ng/internal/config"
	"squidrid-ng/internal/device"
	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/link"
	"squidrid-ng/internal/protocol"
	"squidrid-ng/internal/reset"
	"squidrid-ng/internal/sim"
	"squidrid-ng/internal/udp"
	"squidrid-ng/internal/web"
)

type consoleRuntime struct {
	cfg    config.Config
	source string

	link      *link.Link
	session   *device.Session
	forwarder *udp.Forwarder
	reset     *reset.Pulser
	logs      *web.LogBuffer

	// pollEvery is how often the runtime checks for a fresh connection.
	pollEvery time.Duration
}

func newRuntime(cfg config.Config, logs *web.LogBuffer) (*consoleRuntime, error) {
	rt := &consoleRuntime{cfg: cfg, logs: logs, pollEvery: 250 * time.Millisecond}

	linkCfg := link.Config{
		Device:         cfg.Serial.Device,
		Baud:           cfg.Serial.Baud,
		ReconnectDelay: cfg.Serial.ReconnectDelay,
	}
	if linkCfg.Device == "auto" {
		linkCfg.Device = ""
	}

	var err error
	if cfg.Sim.Enable {
		dev, err := sim.New(sim.Config{
			Origin:   geo.Coordinate{Lat: cfg.Sim.Lat, Lon: cfg.Sim.Lng},
			SpeedMps: cfg.Sim.SpeedMps,
			AltM:     cfg.Sim.AltM,
			Tick:     cfg.Sim.Tick,
			Seed:     cfg.Sim.Seed,
		})
		if err != nil {
			return nil, fmt.Errorf("sim init: %w", err)
		}
		linkCfg.Device = "sim"
		rt.source = "sim"
		rt.link, err = link.NewWithDialer(linkCfg, dev.Dial)
		if err != nil {
			return nil, err
		}
	} else {
		rt.source = "serial"
		if rt.link, err = link.New(linkCfg); err != nil {
			return nil, err
		}
	}

	rt.session, err = device.NewSession(device.Config{
		TrailMax:       cfg.Session.TrailMax,
		TargetTTL:      cfg.Session.TargetTTL,
		MaxTargets:     cfg.Session.MaxTargets,
		LockTimeout:    cfg.Session.LockTimeout,
		MaxLegs:        cfg.Path.MaxLegs,
		LenientInflate: cfg.Path.LenientInflate,
	}, rt.link)
	if err != nil {
		return nil, err
	}

	if cfg.Telemetry.Dest != "" {
		if rt.forwarder, err = udp.NewForwarder(cfg.Telemetry.Dest); err != nil {
			return nil, fmt.Errorf("telemetry init: %w", err)
		}
		log.Printf("telemetry dest=%s", cfg.Telemetry.Dest)
	}

	if cfg.Reset.Enable {
		if rt.reset, err = reset.New(reset.Config{GPIO: cfg.Reset.GPIO, Pulse: cfg.Reset.Pulse}); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// onFrame runs on the link's reader goroutine.
func (rt *consoleRuntime) onFrame(f protocol.Frame) {
	// The session logs its own errors and records them in its snapshot.
	_ = rt.session.HandleFrame(f)
	if err := rt.forwarder.Forward(time.Now(), f); err != nil {
		log.Printf("telemetry forward frame=$%s err=%v", f.Command, err)
	}
}

// watchConnection requests the device state every time the link comes up.
func (rt *consoleRuntime) watchConnection(ctx context.Context) {
	t := time.NewTicker(rt.pollEvery)
	defer t.Stop()
	was := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		up := rt.link.Connected()
		if up && !was {
			if err := rt.session.Sync(); err != nil {
				log.Printf("session sync failed: %v", err)
			}
		}
		was = up
	}
}

func (rt *consoleRuntime) deps() web.Deps {
	var telemetry web.TelemetryReporter
	if rt.forwarder != nil {
		telemetry = rt.forwarder
	}
	d := web.Deps{
		Status:  web.NewStatus(rt.source, rt.link, rt.session, telemetry),
		Session: rt.session,
		Logs:    rt.logs,
	}
	if rt.reset != nil {
		d.Reset = rt.reset
	}
	return d
}

func (rt *consoleRuntime) run(ctx context.Context) error {
	if err := rt.link.Start(ctx, rt.onFrame); err != nil {
		return err
	}
	defer rt.link.Close()
	defer rt.forwarder.Close()

	go rt.watchConnection(ctx)
	return web.Serve(ctx, rt.cfg.Web.Listen, rt.deps())
}
