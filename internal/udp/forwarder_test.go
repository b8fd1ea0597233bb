package udp

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"squidrid-ng/internal/geo"
	"squidrid-ng/internal/protocol"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewForwarder_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	f, err := newForwarder("127.0.0.1:4000", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newForwarder() error: %v", err)
	}

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
	if err := f.Close(); err != nil || !fc.closed {
		t.Fatalf("Close err=%v closed=%v", err, fc.closed)
	}
}

func TestNewForwarder_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newForwarder("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestForwarder_ForwardCurrent(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{dest: "x", conn: fc}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	c := protocol.Current{Position: geo.Coordinate{Lat: 47.6, Lon: -122.3}, AltM: 120, Heading: 90}
	if err := f.Forward(now, c.Frame()); err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 datagram, got %d", len(fc.writes))
	}

	var got Report
	if err := json.Unmarshal(fc.writes[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "current" || got.Current == nil || got.Target != nil {
		t.Fatalf("report=%+v", got)
	}
	if got.Current.Position != c.Position || got.Current.AltM != 120 {
		t.Fatalf("current=%+v", got.Current)
	}
	if got.TimeUTC != "2025-01-02T03:04:05Z" {
		t.Fatalf("time=%q", got.TimeUTC)
	}
	if s := f.Stats(); s.Sent != 1 || s.Errors != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestForwarder_ForwardTarget(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{dest: "x", conn: fc}

	tg := protocol.Target{Position: geo.Coordinate{Lat: 1, Lon: 2}, MAC: "02:00:00:00:00:01"}
	if err := f.Forward(time.Now(), tg.Frame()); err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	var got Report
	if err := json.Unmarshal(fc.writes[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "target" || got.Target == nil || got.Target.MAC != tg.MAC {
		t.Fatalf("report=%+v", got)
	}
}

func TestForwarder_SkipsOtherFrames(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{dest: "x", conn: fc}

	for _, fr := range []protocol.Frame{
		protocol.NewFrame(protocol.CmdAck),
		protocol.NewFrame(protocol.CmdVersion, "1008"),
		protocol.NewFrame(protocol.CmdCurrent, "garbage"),
	} {
		if err := f.Forward(time.Now(), fr); err != nil {
			t.Fatalf("Forward(%s) error: %v", fr, err)
		}
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}

	var nilF *Forwarder
	if err := nilF.Forward(time.Now(), protocol.Current{}.Frame()); err != nil {
		t.Fatalf("nil Forward error: %v", err)
	}
}

func TestForwarder_Send_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{dest: "x", conn: fc}

	if err := f.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestForwarder_Send_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	fc := &fakeConn{writeErr: wantErr}
	f := &Forwarder{dest: "x", conn: fc}

	err := f.Send([]byte{0x01})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
	if s := f.Stats(); s.Errors != 1 || s.Sent != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestForwarder_Close_NilConnNoPanic(t *testing.T) {
	f := &Forwarder{}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}
