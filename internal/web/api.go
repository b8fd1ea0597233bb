package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"squidrid-ng/internal/device"
	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/protocol"
)

// deviceAPI exposes session operations to the console.
type deviceAPI struct {
	sess  *device.Session
	reset Resetter
}

// PathResponse is the pending path as the console reviews it.
type PathResponse struct {
	Waypoints []geo.Coordinate       `json:"waypoints"`
	Review    []geo.CombinedPathItem `json:"review"`
	Polyline  string                 `json:"polyline"`
	Legs      int                    `json:"legs"`
	MaxLegs   int                    `json:"max_legs"`
}

type originIn struct {
	Target string  `json:"target"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

var (
	waypointSchema = schema{required: []string{"lat", "lng"}}
	originSchema   = schema{required: []string{"target", "lat", "lng"}}
	modeSchema     = schema{required: []string{"app_mode", "fly_mode", "path_mode", "spd", "alt"}}
	profileSchema  = schema{
		required: []string{
			"rid", "operator", "description", "uatype", "idtype",
			"origin", "alt_m", "operator_pos", "op_alt_m", "spd", "sats", "mac",
			"pest_origin", "pest_radius_m", "pest_spawn_sec",
		},
		optional: []string{"app_mode", "external"},
	}
	radiusSchema = schema{required: []string{"step"}}
	spawnSchema  = schema{required: []string{"sec"}}
)

func (a *deviceAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/path", a.handlePath)
	mux.HandleFunc("/api/path/waypoints", a.handleWaypoints)
	mux.HandleFunc("/api/path/apply", a.handleApply)
	mux.HandleFunc("/api/path.kml", a.handleKML)
	mux.HandleFunc("/api/mode", a.handleMode)
	mux.HandleFunc("/api/profile", a.handleProfile)
	mux.HandleFunc("/api/origin", a.handleOrigin)
	mux.HandleFunc("/api/pest/radius", a.handlePestRadius)
	mux.HandleFunc("/api/pest/spawn", a.handlePestSpawn)
	mux.HandleFunc("/api/sync", a.handleSync)
	mux.HandleFunc("/api/reboot", a.handleReboot)
}

func (a *deviceAPI) available(w http.ResponseWriter) bool {
	if a.sess == nil {
		http.Error(w, "device session unavailable", http.StatusNotFound)
		return false
	}
	return true
}

func (a *deviceAPI) pathResponse() PathResponse {
	snap := a.sess.Snapshot()
	loop := a.sess.Loop()
	legs := 0
	if len(loop) > 1 {
		legs = len(loop) - 1
	}
	return PathResponse{
		Waypoints: snap.Path,
		Review:    geo.Combine(loop),
		Polyline:  geo.EncodePolyline(loop),
		Legs:      legs,
		MaxLegs:   a.sess.MaxLegs(),
	}
}

func (a *deviceAPI) handlePath(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodDelete) || !a.available(w) {
		return
	}
	if r.Method == http.MethodDelete {
		a.sess.ClearPath()
	}
	writeJSON(w, a.pathResponse())
}

func (a *deviceAPI) handleWaypoints(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	var c geo.Coordinate
	if !readStrictJSON(w, r, waypointSchema, &c) {
		return
	}
	if err := a.sess.AppendWaypoint(c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, a.pathResponse())
}

func (a *deviceAPI) handleApply(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	if err := a.sess.ApplyPath(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *deviceAPI) handleKML(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !a.available(w) {
		return
	}
	loop := a.sess.Loop()
	if len(loop) == 0 {
		http.Error(w, "no path", http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := geo.WriteKML(&buf, "SquidRID path", loop); err != nil {
		http.Error(w, fmt.Sprintf("kml failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", "attachment; filename=\"squidrid-path.kml\"")
	_, _ = w.Write(buf.Bytes())
}

func (a *deviceAPI) handleMode(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) || !a.available(w) {
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, a.sess.Mode())
		return
	}
	var m protocol.Mode
	if !readStrictJSON(w, r, modeSchema, &m) {
		return
	}
	if err := validateMode(m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.sess.SetModes(m); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func validateMode(m protocol.Mode) error {
	switch {
	case m.App < protocol.AppModeSim || m.App > protocol.AppModeExternal:
		return fmt.Errorf("app_mode %d out of range", int(m.App))
	case m.Fly < protocol.FlyModePause || m.Fly > protocol.FlyModeFly:
		return fmt.Errorf("fly_mode %d out of range", int(m.Fly))
	case m.Path < protocol.PathModeHold || m.Path > protocol.PathModeFollow:
		return fmt.Errorf("path_mode %d out of range", int(m.Path))
	case m.Speed < 0:
		return fmt.Errorf("spd must be >= 0")
	case m.AltM < 0:
		return fmt.Errorf("alt must be >= 0")
	}
	return nil
}

func (a *deviceAPI) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) || !a.available(w) {
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, a.sess.Snapshot().Profile)
		return
	}
	var p protocol.Profile
	if !readStrictJSON(w, r, profileSchema, &p) {
		return
	}
	if p.PestSpawnSec < 0 || p.PestRadiusM < 0 {
		http.Error(w, "pest settings must be >= 0", http.StatusBadRequest)
		return
	}
	if err := a.sess.StoreProfile(p); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *deviceAPI) handleOrigin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	var in originIn
	if !readStrictJSON(w, r, originSchema, &in) {
		return
	}
	c := geo.Coordinate{Lat: in.Lat, Lon: in.Lng}

	var set func(geo.Coordinate) error
	switch in.Target {
	case "origin":
		set = a.sess.SetOrigin
	case "operator":
		set = a.sess.SetOperator
	case "pest":
		set = a.sess.SetPestOrigin
	default:
		http.Error(w, fmt.Sprintf("unknown target %q", in.Target), http.StatusBadRequest)
		return
	}
	if err := set(c); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *deviceAPI) handlePestRadius(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	var in struct {
		Step int `json:"step"`
	}
	if !readStrictJSON(w, r, radiusSchema, &in) {
		return
	}
	if in.Step < 1 || in.Step > len(protocol.RadiusSteps) {
		http.Error(w, fmt.Sprintf("step must be in [1,%d]", len(protocol.RadiusSteps)), http.StatusBadRequest)
		return
	}
	if err := a.sess.SetPestRadiusStep(in.Step); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *deviceAPI) handlePestSpawn(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	var in struct {
		Sec int `json:"sec"`
	}
	if !readStrictJSON(w, r, spawnSchema, &in) {
		return
	}
	if in.Sec < 0 {
		http.Error(w, "sec must be >= 0", http.StatusBadRequest)
		return
	}
	if err := a.sess.SetPestSpawn(in.Sec); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *deviceAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	if err := a.sess.Sync(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *deviceAPI) handleReboot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !a.available(w) {
		return
	}
	if a.reset != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := a.reset.Pulse(ctx); err != nil {
			http.Error(w, fmt.Sprintf("reset failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeOK(w)
		return
	}
	if err := a.sess.Reboot(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
