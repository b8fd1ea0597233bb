// Package udp forwards device reports to ground-station tools as JSON
// datagrams.
package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"squidrid-ng/internal/protocol"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Forwarder sends one datagram per position (`$C`) or target (`$T`) report.
type Forwarder struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	errors atomic.Uint64
}

// Report is the datagram payload.
type Report struct {
	Type    string            `json:"type"`
	TimeUTC string            `json:"time_utc"`
	Current *protocol.Current `json:"current,omitempty"`
	Target  *protocol.Target  `json:"target,omitempty"`
}

type Stats struct {
	Dest   string `json:"dest"`
	Sent   uint64 `json:"sent"`
	Errors uint64 `json:"errors"`
}

func NewForwarder(dest string) (*Forwarder, error) {
	return newForwarder(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc) (*Forwarder, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Forwarder{dest: dest, conn: conn}, nil
}

// Forward sends f if it is a position or target report. Other frames and
// reports that do not parse are skipped.
func (f *Forwarder) Forward(now time.Time, fr protocol.Frame) error {
	if f == nil {
		return nil
	}
	r := Report{TimeUTC: now.UTC().Format(time.RFC3339Nano)}
	switch fr.Command {
	case protocol.CmdCurrent:
		c, err := protocol.ParseCurrent(fr)
		if err != nil {
			return nil
		}
		r.Type = "current"
		r.Current = &c
	case protocol.CmdTarget:
		t, err := protocol.ParseTarget(fr)
		if err != nil {
			return nil
		}
		r.Type = "target"
		r.Target = &t
	default:
		return nil
	}

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return f.Send(b)
}

func (f *Forwarder) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := f.conn.Write(payload); err != nil {
		f.errors.Add(1)
		return err
	}
	f.sent.Add(1)
	return nil
}

func (f *Forwarder) Stats() Stats {
	if f == nil {
		return Stats{}
	}
	return Stats{Dest: f.dest, Sent: f.sent.Load(), Errors: f.errors.Load()}
}

func (f *Forwarder) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
