package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/colorfulnotion/cartezcash/czerrors"
	log "github.com/colorfulnotion/cartezcash/log"
)

// Handler processes rollup inputs. A returned error rejects the input; an
// error classified fatal stops Run.
type Handler interface {
	Advance(ctx context.Context, in *Input) (*Output, error)
	Inspect(ctx context.Context, in *Input) (*Output, error)
}

// Run drives the finish loop until ctx is done or a fatal error occurs: one
// returned by the handler, or outputs of an accepted advance that the host
// would not take after cfg.OutputAttempts posts each.
func Run(ctx context.Context, cfg Config, h Handler) error {
	c := NewClient(cfg)
	status := StatusAccept
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := c.Finish(ctx, status)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn(log.Rollup, "finish failed, retrying", "err", err, "delay", cfg.RetryDelay)
			if !sleep(ctx, cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		if req == nil {
			continue
		}

		status, err = process(ctx, cfg, c, h, req)
		if err != nil {
			return err
		}
	}
}

func process(ctx context.Context, cfg Config, c *Client, h Handler, req *Request) (string, error) {
	var out *Output
	var err error
	switch req.Type {
	case RequestAdvance:
		log.Debug(log.Rollup, "advance", "sender", req.Input.Metadata.MsgSender, "index", req.Input.Metadata.InputIndex, "len", len(req.Input.Payload))
		out, err = h.Advance(ctx, req.Input)
	default:
		out, err = h.Inspect(ctx, req.Input)
	}
	if err != nil {
		if czerrors.IsFatal(err) {
			log.Error(log.Rollup, "fatal error, halting", "type", req.Type, "err", err)
			return "", err
		}
		log.Info(log.Rollup, "input rejected", "type", req.Type, "class", czerrors.ClassOf(err), "err", err)
		if rerr := c.SendReport(ctx, []byte(err.Error())); rerr != nil {
			log.Warn(log.Rollup, "report failed", "err", rerr)
		}
		return StatusReject, nil
	}
	if err := deliver(ctx, cfg, c, out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if req.Type == RequestAdvance {
			// The block is already committed; rejecting would leave the
			// ledger ahead of what the host recorded.
			log.Error(log.Rollup, "outputs of accepted input undelivered, halting", "err", err)
			return "", fmt.Errorf("%w: outputs of accepted input undelivered: %v", czerrors.ErrPersistDivergence, err)
		}
		log.Warn(log.Rollup, "inspect report undelivered", "err", err)
		return StatusReject, nil
	}
	return StatusAccept, nil
}

// deliver posts every voucher, notice and report in out, in that order. Each
// post is retried on its own so a delivered output is never sent twice.
func deliver(ctx context.Context, cfg Config, c *Client, out *Output) error {
	if out == nil {
		return nil
	}
	var sends []func() error
	for _, v := range out.Vouchers {
		sends = append(sends, func() error { return c.SendVoucher(ctx, v) })
	}
	for _, n := range out.Notices {
		sends = append(sends, func() error { return c.SendNotice(ctx, n) })
	}
	for _, r := range out.Reports {
		sends = append(sends, func() error { return c.SendReport(ctx, r) })
	}
	for _, send := range sends {
		if err := retry(ctx, cfg, send); err != nil {
			return err
		}
	}
	return nil
}

func retry(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.OutputAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn(log.Rollup, "output post failed", "attempt", i, "of", attempts, "err", err)
		if i < attempts && !sleep(ctx, cfg.RetryDelay) {
			return ctx.Err()
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
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
