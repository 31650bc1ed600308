// Package delivery implements the feed behind GET /mail.
//
// Batch mode claims every due dispatch in one atomic statement and returns
// the materialized mails. Streaming mode is a long-lived session that
// alternates two phases: draining already-due dispatches, and waiting on the
// consumer's notification channel for newly scheduled mail. Every delivered
// mail is claimed and committed before it is emitted, so a client disconnect
// costs at most one re-delivery, one redelivery delay later.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaimel/archiver/internal/resource"
	"github.com/kaimel/archiver/internal/store"
)

// Notifications is one consumer's subscription to its channel. Wait blocks
// for the next payload (a mail id) and returns the context's error on
// cancellation or deadline.
type Notifications interface {
	Wait(ctx context.Context) (string, error)
	Close()
}

// Store is the slice of the archive the engine drives. *store.Store
// satisfies it through a thin adapter for Listen's concrete return type.
type Store interface {
	ClaimDueBatch(ctx context.Context, consumerID int64) ([]store.ClaimedMail, error)
	ClaimNextDue(ctx context.Context, consumerID int64) (*store.ClaimedMail, error)
	ClaimMail(ctx context.Context, consumerID int64, mailID string) (*store.ClaimedMail, error)
	Listen(ctx context.Context, consumerID int64) (Notifications, error)
}

// Engine delivers each consumer's personalized feed.
type Engine struct {
	store       Store
	logger      *slog.Logger
	waitTimeout time.Duration
	hook        func()
}

// New creates an Engine with the default 60-second wait window.
func New(s Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:       s,
		logger:      logger,
		waitTimeout: time.Minute,
		hook:        func() {},
	}
}

// WithWaitTimeout sets the ceiling on one notification wait window.
func (e *Engine) WithWaitTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.waitTimeout = d
	}
	return e
}

// WithHook installs a callback invoked between the drain and wait phases of
// a streaming session. Tests use it to inject work at a known point in the
// loop.
func (e *Engine) WithHook(fn func()) *Engine {
	if fn != nil {
		e.hook = fn
	}
	return e
}

// Batch claims every due dispatch of the consumer and returns the
// materialized mails in ascending pre-claim next_time order. The claim is a
// single atomic statement, so two back-to-back calls never deliver a mail
// twice. The result is never nil; an empty feed is an empty slice.
func (e *Engine) Batch(ctx context.Context, consumerID int64, urls *resource.URLBuilder) ([]*resource.Mail, error) {
	claimed, err := e.store.ClaimDueBatch(ctx, consumerID)
	if err != nil {
		return nil, err
	}

	mails := make([]*resource.Mail, 0, len(claimed))
	for i := range claimed {
		r, err := resource.LoadMail(&claimed[i].Mail, claimed[i].Attachments, urls)
		if err != nil {
			return nil, err
		}
		mails = append(mails, r)
	}
	e.logger.Debug("batch delivered", "consumer", consumerID, "mails", len(mails))
	return mails, nil
}

// Stream runs one streaming session, calling emit once per delivered mail
// until ctx is cancelled. The notification subscription uses a dedicated
// connection; claims run as self-contained transactions on the pool. Both
// are torn down, subscription last-acquired-first, on every exit path.
func (e *Engine) Stream(ctx context.Context, consumerID int64, urls *resource.URLBuilder, emit func(*resource.Mail) error) error {
	notes, err := e.store.Listen(ctx, consumerID)
	if err != nil {
		return err
	}
	defer notes.Close()

	e.logger.Debug("stream open", "consumer", consumerID)
	defer e.logger.Debug("stream closed", "consumer", consumerID)

	for {
		if err := e.drain(ctx, consumerID, urls, emit); err != nil {
			return err
		}
		e.hook()
		if err := e.wait(ctx, notes, consumerID, urls, emit); err != nil {
			return err
		}
	}
}

// drain claims and emits due dispatches one at a time until none is due.
// Each claim commits before its mail is emitted.
func (e *Engine) drain(ctx context.Context, consumerID int64, urls *resource.URLBuilder, emit func(*resource.Mail) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := e.store.ClaimNextDue(ctx, consumerID)
		if err != nil {
			return err
		}
		if claimed == nil {
			return nil
		}
		if err := e.deliver(claimed, consumerID, urls, emit); err != nil {
			return err
		}
	}
}

// wait serves notifications for one bounded window. A payload names a mail
// that may have become due; a claim that comes back empty means another
// session already took it or it is not yet due, and is skipped silently.
// Window expiry returns nil so the caller re-enters the drain.
func (e *Engine) wait(ctx context.Context, notes Notifications, consumerID int64, urls *resource.URLBuilder, emit func(*resource.Mail) error) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	defer cancel()

	for {
		payload, err := notes.Wait(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		e.logger.Debug("notified", "consumer", consumerID, "mail", payload)

		claimed, err := e.store.ClaimMail(ctx, consumerID, payload)
		if err != nil {
			return err
		}
		if claimed == nil {
			continue
		}
		if err := e.deliver(claimed, consumerID, urls, emit); err != nil {
			return err
		}
	}
}

// deliver materializes a committed claim and hands it to the stream. By the
// time emit runs, the dispatch is already rescheduled; an emit failure loses
// at most this one delivery until its next_time.
func (e *Engine) deliver(c *store.ClaimedMail, consumerID int64, urls *resource.URLBuilder, emit func(*resource.Mail) error) error {
	r, err := resource.LoadMail(&c.Mail, c.Attachments, urls)
	if err != nil {
		return err
	}
	e.logger.Debug("delivering", "consumer", consumerID, "mail", c.Mail.ID)
	return emit(r)
}
