package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// replyLen is the size of a status reply; the value is its last byte.
const replyLen = 3

// idleReadBackoff spaces out retries on links whose Read returns at once.
const idleReadBackoff = 10 * time.Millisecond

// DefaultPollInterval is the delay between device timer queries in WaitIdle.
const DefaultPollInterval = 500 * time.Millisecond

// QueryDeviceTimer asks for the device timer. The printer counts it down
// while it is still feeding and reports 0 once the job has left the head.
func (p *Printer) QueryDeviceTimer(ctx context.Context) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryDeviceTimer(ctx)
}

func (p *Printer) queryDeviceTimer(ctx context.Context) (byte, error) {
	if err := p.write(cmdQueryDeviceTimer); err != nil {
		return 0, fmt.Errorf("device timer: %w", err)
	}
	reply, err := p.readReply(ctx)
	if err != nil {
		return 0, fmt.Errorf("device timer: %w", err)
	}
	return reply[replyLen-1], nil
}

// WaitIdle polls the device timer every interval until it reads 0. It
// returns ErrNoCompletion if the link reports EOF first, or ctx's error.
func (p *Printer) WaitIdle(ctx context.Context, interval time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitIdle(ctx, interval)
}

func (p *Printer) waitIdle(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		v, err := p.queryDeviceTimer(ctx)
		if err != nil {
			return err
		}
		p.log.Debug().Uint8("timer", v).Msg("device timer") // 0 = печать закончена
		if v == 0 {
			return nil
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// readReply collects replyLen bytes. Reads that time out with (0, nil) are
// retried until ctx is done.
func (p *Printer) readReply(ctx context.Context) ([]byte, error) {
	reply := make([]byte, replyLen)
	got := 0
	for got < replyLen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := p.t.Read(reply[got:])
		got += n
		switch {
		case n == 0 && err == nil:
			select {
			case <-ctx.Done():
			case <-time.After(idleReadBackoff):
			}
		case errors.Is(err, io.EOF):
			if got < replyLen {
				return nil, fmt.Errorf("%w (%w: %d of %d bytes)", ErrNoCompletion, ErrShortReply, got, replyLen)
			}
		case err != nil:
			return nil, err
		}
	}
	return reply, nil
}
