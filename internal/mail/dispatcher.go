package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/celestialseal/server/internal/logger"
)

const defaultSendTimeout = 15 * time.Second

// Dispatcher sends mail in the background so request latency does not depend on the relay.
// Failures are logged, never returned.
type Dispatcher struct {
	mailer  Mailer
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(mailer Mailer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{mailer: mailer, log: log, timeout: defaultSendTimeout}
}

// Dispatch queues msg. The send outlives the request context but not the send timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.mailer.Send(ctx, msg); err != nil {
			d.log.Error("failed to send mail",
				"to", logger.MaskEmail(msg.To),
				"subject", msg.Subject,
				"error", err,
			)
		}
	}()
}

// Wait blocks until in-flight sends finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
