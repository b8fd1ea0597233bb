package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogBuffer_HoldsPartialLines(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("link state=conn"))
	if lines, _ := b.Snapshot(0, ""); len(lines) != 0 {
		t.Fatalf("partial line surfaced early: %v", lines)
	}
	_, _ = b.Write([]byte("ected\r\nsession frame=$D\n\n"))
	lines, _ := b.Snapshot(0, "")
	if len(lines) != 2 || lines[0] != "link state=connected" || lines[1] != "session frame=$D" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBuffer_DropsOldestAndFilters(t *testing.T) {
	b := NewLogBuffer(3)
	for _, l := range []string{"link a", "session b", "link c", "session d", "link e"} {
		_, _ = b.Write([]byte(l + "\n"))
	}
	lines, dropped := b.Snapshot(10, "")
	if dropped != 2 || strings.Join(lines, ",") != "link c,session d,link e" {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
	lines, _ = b.Snapshot(1, "link")
	if strings.Join(lines, ",") != "link e" {
		t.Fatalf("filtered=%q", lines)
	}
}

func TestLogBuffer_Handler(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("one\ntwo\n"))
	ts := httptest.NewServer(b.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/?tail=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Lines) != 1 || out.Lines[0] != "two" {
		t.Fatalf("lines=%q", out.Lines)
	}

	resp2, err := http.Get(ts.URL + "/?format=text")
	if err != nil {
		t.Fatalf("get text: %v", err)
	}
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if string(body) != "one\ntwo\n" {
		t.Fatalf("text=%q", body)
	}

	resp3, err := http.Get(ts.URL + "/?tail=0")
	if err != nil {
		t.Fatalf("get bad tail: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp3.StatusCode)
	}
}
