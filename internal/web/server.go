// Package web serves the operator console and its JSON API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"time"

	"squidrid-ng/internal/device"
	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/link"
	"squidrid-ng/internal/protocol"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Resetter pulses the device's hardware reset line.
type Resetter interface {
	Pulse(ctx context.Context) error
}

type Deps struct {
	Status  *Status
	Session *device.Session
	Logs    *LogBuffer
	// Reset is optional; without it reboot requests go over the link.
	Reset Resetter
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus("", nil, d.Session, nil)
	}
	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// Keep the API usable without the UI.
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Status.Snapshot(time.Now().UTC()))
	})

	api := &deviceAPI{sess: d.Session, reset: d.Reset}
	api.register(mux)

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	var firmware func() int
	if d.Session != nil {
		firmware = func() int { return d.Session.Snapshot().Version }
	}
	mux.Handle("/api/about", AboutHandler(firmware))

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		// SPA shell: serve the UI for / and any unknown paths except /api/* and /assets/*.
		if r.URL.Path != "/" {
			if dir := path.Dir(r.URL.Path); dir == "/api" || dir == "/assets" || path.Dir(dir) == "/api" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>SquidRID</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>SquidRID</h1><p>Console unavailable. Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "</body></html>")
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	allow := methods[0]
	for _, m := range methods[1:] {
		allow += ", " + m
	}
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{\"ok\":true}\n"))
}

// writeError maps session and link errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrBusy),
		errors.Is(err, device.ErrPathFull),
		errors.Is(err, device.ErrNoOrigin):
		return http.StatusConflict
	case errors.Is(err, link.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, geo.ErrMalformedWireInput),
		errors.Is(err, protocol.ErrTooManyLegs):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
