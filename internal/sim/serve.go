package sim

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"
)

// Dial returns the console end of an in-memory serial line whose far end is
// served by d. It matches link.Dialer, so a link can reconnect to the
// emulator after a reboot the same way it would to a real board.
func (d *Device) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	console, device := net.Pipe()
	go func() {
		if err := d.Serve(ctx, device); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			log.Printf("sim serve ended: %v", err)
		}
	}()
	return console, nil
}

// Serve runs the firmware loop over conn until ctx is done, the peer hangs up
// or the device is rebooted. conn is closed on return.
func (d *Device) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	// Writes go through a queue so a slow reader on the console side never
	// stalls command processing.
	out := make(chan string, 64)
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-out:
				if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
		}
	}()

	emit := func(lines []string) {
		for _, l := range lines {
			select {
			case out <- l:
			case <-ctx.Done():
				return
			}
		}
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	log.Printf("sim device online origin=%s", d.cfg.Origin)
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			select {
			case err := <-writeErr:
				return err
			default:
			}
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			replies, err := d.Handle(line, d.cfg.Now())
			emit(replies)
			if errors.Is(err, errReboot) {
				log.Printf("sim device rebooting")
				return nil
			}
		case <-ticker.C:
			emit(d.Step(d.cfg.Now()))
		}
	}
}
