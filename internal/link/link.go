// Package link owns the serial (or serial-over-TCP) connection to the device
// and turns it into a stream of protocol frames.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"squidrid-ng/internal/protocol"
)

const tcpScheme = "tcp://"

var ErrNotConnected = errors.New("link not connected")

// Dialer opens one connection to the device.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

type Config struct {
	// Device is a tty path, "tcp://host:port" for a serial server, or empty
	// to auto-detect a USB serial adapter.
	Device string
	Baud   int

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxLineBytes      int
	TailLines         int
}

type Snapshot struct {
	Device      string      `json:"device"`
	Baud        int         `json:"baud,omitempty"`
	State       string      `json:"state"`
	Connected   bool        `json:"connected"`
	LastError   string      `json:"last_error,omitempty"`
	LastSeenUTC string      `json:"last_seen_utc,omitempty"`
	FramesIn    uint64      `json:"frames_in"`
	FramesOut   uint64      `json:"frames_out"`
	ParseErrors uint64      `json:"parse_errors"`
	Tail        []TraceLine `json:"tail,omitempty"`
}

type Link struct {
	cfg  Config
	dial Dialer

	started atomic.Bool
	closed  atomic.Bool

	framesIn    atomic.Uint64
	framesOut   atomic.Uint64
	parseErrors atomic.Uint64

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	conn     io.ReadWriteCloser

	writeMu sync.Mutex
	tail    *frameTrace

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a link that dials cfg.Device.
func New(cfg Config) (*Link, error) {
	cfg = withDefaults(cfg)
	return NewWithDialer(cfg, func(ctx context.Context) (io.ReadWriteCloser, error) {
		return dialDevice(ctx, cfg.Device, cfg.Baud)
	})
}

// NewWithDialer returns a link that uses dial for every (re)connect.
func NewWithDialer(cfg Config, dial Dialer) (*Link, error) {
	if dial == nil {
		return nil, fmt.Errorf("link dialer is nil")
	}
	cfg = withDefaults(cfg)
	return &Link{
		cfg:   cfg,
		dial:  dial,
		state: "stopped",
		tail:  newFrameTrace(cfg.TailLines, 512),
		done:  make(chan struct{}),
	}, nil
}

func withDefaults(cfg Config) Config {
	cfg.Device = strings.TrimSpace(cfg.Device)
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 250 * time.Millisecond
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 10 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4096
	}
	if cfg.TailLines == 0 {
		cfg.TailLines = 100
	}
	return cfg
}

// Start connects in the background and calls onFrame for every received
// frame, in order, from a single goroutine. Lines that are not frames (boot
// chatter, debug prints) are skipped.
func (l *Link) Start(ctx context.Context, onFrame func(protocol.Frame)) error {
	if l == nil {
		return fmt.Errorf("link is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if onFrame == nil {
		return fmt.Errorf("link onFrame is nil")
	}
	if l.closed.Load() {
		return fmt.Errorf("link is closed")
	}
	if l.started.Swap(true) {
		return fmt.Errorf("link already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.setState("connecting", "")

	go func() {
		defer close(l.done)
		l.runLoop(runCtx, onFrame)
	}()
	return nil
}

// Send writes one frame followed by a newline.
func (l *Link) Send(f protocol.Frame) error {
	if l == nil {
		return ErrNotConnected
	}
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	line := f.String()
	l.writeMu.Lock()
	_, err := io.WriteString(conn, line+"\n")
	l.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	l.framesOut.Add(1)
	l.tail.record(ToDevice, time.Now(), line)
	log.Printf("link sent %s", line)
	return nil
}

func (l *Link) Connected() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil
}

func (l *Link) Close() {
	if l == nil {
		return
	}
	if l.closed.Swap(true) {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.started.Load() {
		<-l.done
	}
}

func (l *Link) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.RLock()
	out := Snapshot{
		Device:    l.cfg.Device,
		State:     l.state,
		Connected: l.conn != nil,
		LastError: l.lastErr,
	}
	lastSeen := l.lastSeen
	l.mu.RUnlock()

	if !strings.HasPrefix(out.Device, tcpScheme) {
		out.Baud = l.cfg.Baud
	}
	if !lastSeen.IsZero() {
		out.LastSeenUTC = lastSeen.UTC().Format(time.RFC3339Nano)
	}
	out.FramesIn = l.framesIn.Load()
	out.FramesOut = l.framesOut.Load()
	out.ParseErrors = l.parseErrors.Load()
	out.Tail = l.tail.lines()
	return out
}

func (l *Link) runLoop(ctx context.Context, onFrame func(protocol.Frame)) {
	backoff := l.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			l.setState("stopped", "")
			return
		default:
		}

		l.setState("connecting", "")
		conn, err := l.dial(ctx)
		if err != nil {
			l.setState("error", err.Error())
			if !sleepCtx(ctx, backoff) {
				l.setState("stopped", "")
				return
			}
			if backoff < l.cfg.MaxReconnectDelay {
				backoff *= 2
				if backoff > l.cfg.MaxReconnectDelay {
					backoff = l.cfg.MaxReconnectDelay
				}
			}
			continue
		}
		backoff = l.cfg.ReconnectDelay

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		l.setState("connected", "")
		log.Printf("link connected device=%s", l.cfg.Device)

		err = l.readLoop(ctx, conn, onFrame)

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			l.setState("stopped", "")
			log.Printf("link stopped device=%s", l.cfg.Device)
			return
		}
		l.setState("disconnected", err.Error())
		log.Printf("link disconnected device=%s err=%v", l.cfg.Device, err)

		if !sleepCtx(ctx, l.cfg.ReconnectDelay) {
			l.setState("stopped", "")
			return
		}
	}
}

func (l *Link) readLoop(ctx context.Context, conn io.ReadWriteCloser, onFrame func(protocol.Frame)) error {
	// Unblock the reader on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 512), l.cfg.MaxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, protocol.Prefix) {
			continue
		}
		l.tail.record(FromDevice, time.Now(), line)

		f, err := protocol.Parse(line)
		if err != nil {
			l.parseErrors.Add(1)
			l.setLastError(err.Error())
			continue
		}

		l.framesIn.Add(1)
		l.mu.Lock()
		l.lastSeen = time.Now().UTC()
		l.mu.Unlock()
		onFrame(f)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (l *Link) setState(state string, lastErr string) {
	l.mu.Lock()
	l.state = state
	if lastErr != "" {
		l.lastErr = lastErr
	} else if state == "connected" || state == "stopped" {
		l.lastErr = ""
	}
	l.mu.Unlock()
}

func (l *Link) setLastError(msg string) {
	l.mu.Lock()
	l.lastErr = msg
	l.mu.Unlock()
}

func dialDevice(ctx context.Context, device string, baud int) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(device, tcpScheme) {
		addr := strings.TrimPrefix(device, tcpScheme)
		d := &net.Dialer{Timeout: 2 * time.Second, KeepAlive: 15 * time.Second}
		return d.DialContext(ctx, "tcp", addr)
	}
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, fmt.Errorf("serial auto-detect failed: no /dev/ttyUSB* or /dev/ttyACM* found")
		}
	}
	f, err := openSerial(device, baud)
	if err != nil {
		return nil, fmt.Errorf("serial open device=%s baud=%d: %w", device, baud, err)
	}
	return f, nil
}

func autoDetectDevice() string {
	// ESP32 dev boards enumerate as CP210x/CH340 (ttyUSB) or native USB CDC (ttyACM).
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
