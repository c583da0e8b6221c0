package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"replay-merge/internal/loopback"
	"replay-merge/internal/merge"
	"replay-merge/internal/monitor"
)

// demo drives one merge: it keeps publishing numbered messages while polling
// the controller and checks that every message arrives once, in order.
type demo struct {
	pub   *loopback.Publication
	ctrl  *merge.Controller
	board *monitor.Board
	log   *slog.Logger

	prefix        string
	fragmentLimit int
	idleSleep     time.Duration
	exitWhenDone  bool

	published int
	total     int
	received  int
	err       error
	done      bool
}

func (d *demo) offer() error {
	if _, err := d.pub.Offer([]byte(d.prefix + strconv.Itoa(d.published))); err != nil {
		return fmt.Errorf("offer message %d: %w", d.published, err)
	}
	d.published++
	return nil
}

func (d *demo) onMessage(payload []byte, hdr merge.Header) {
	want := d.prefix + strconv.Itoa(d.received)
	if got := string(payload); got != want && d.err == nil {
		d.err = fmt.Errorf("message %d at position %d: got %q want %q", d.received, hdr.StartPosition(), got, want)
	}
	d.received++
}

// run polls until ctx is cancelled or the merge fails. Unless exitWhenDone
// is set, a completed merge keeps being polled so late messages still flow.
func (d *demo) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if d.published < d.total {
			if err := d.offer(); err != nil {
				return err
			}
		}

		work := d.ctrl.Poll(d.onMessage, d.fragmentLimit)
		d.board.Update(d.ctrl)

		if d.err != nil {
			return d.err
		}
		if d.ctrl.State() == merge.StateFailed {
			return fmt.Errorf("merge %s: %w", d.ctrl.ID(), d.ctrl.Err())
		}
		if !d.done && d.ctrl.IsCaughtUp() && d.received == d.total {
			d.done = true
			d.log.Info("all messages received",
				slog.String("merge_id", d.ctrl.ID()),
				slog.Int("messages", d.received),
				slog.Int64("position", int64(d.ctrl.Position())))
			if d.exitWhenDone {
				return nil
			}
		}

		if work == 0 {
			d.idle(ctx)
		}
	}
}

func (d *demo) idle(ctx context.Context) {
	if d.idleSleep <= 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(d.idleSleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
