package tally

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/webhook"
)

// ──────────────────────────────────────────────────
// Webhook processing
// ──────────────────────────────────────────────────

// HandleWebhook verifies, records and processes one provider delivery.
// A nil return means the delivery can be acknowledged, including when it
// was a duplicate. A non-nil return means the provider should redeliver,
// unless it is a ValidationError.
func (t *Tally) HandleWebhook(ctx context.Context, body []byte, h http.Header) error {
	if t.webhookVerifier == nil {
		return ConfigurationError{Setting: "webhook_secret", Message: ErrWebhookNotConfigured.Error()}
	}
	if err := t.webhookVerifier.Verify(body, h); err != nil {
		return invalidErr("webhook", err)
	}

	env, err := webhook.ParseEnvelope(body, h)
	if err != nil {
		return invalidErr("webhook", err)
	}

	return t.ProcessEvent(ctx, t.providerName, env)
}

// ProcessEvent runs the record, claim, dispatch and finalize sequence for
// an already authenticated envelope. Providers whose native webhooks are
// translated into envelopes call this directly.
func (t *Tally) ProcessEvent(ctx context.Context, providerName string, env *webhook.Envelope) error {
	// The payload is decoded before anything is stored so a malformed body
	// is rejected without leaving an event row behind.
	payload, err := webhook.Decode(env)
	if err != nil {
		return invalidErr("webhook", err)
	}

	now := t.now()
	isNew, err := t.store.RecordEvent(ctx, &webhook.Event{
		ID:        id.NewWebhookEventID(),
		EventID:   env.EventID,
		Provider:  providerName,
		EventType: env.Type,
		Payload:   env.Raw,
		Status:    webhook.StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("tally: record webhook event: %w", err)
	}

	claimed, err := t.claim(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !claimed {
		t.logger.Info("webhook duplicate ignored", "event_id", env.EventID, "event_type", env.Type)
		return nil
	}
	if !isNew {
		t.logger.Info("webhook retry claimed", "event_id", env.EventID, "event_type", env.Type)
	}

	return t.runClaimed(ctx, providerName, env, payload)
}

// claim tries to take the event; if someone else holds it past the stale
// threshold the claim is taken over.
func (t *Tally) claim(ctx context.Context, eventID string) (bool, error) {
	now := t.now()
	ok, err := t.store.ClaimEvent(ctx, eventID, now)
	if err != nil {
		return false, fmt.Errorf("tally: claim webhook event: %w", err)
	}
	if ok {
		return true, nil
	}

	reclaimed, err := t.store.ReclaimStaleEvent(ctx, eventID, now.Add(-t.staleAfter), now)
	if err != nil {
		return false, fmt.Errorf("tally: reclaim webhook event: %w", err)
	}
	if reclaimed {
		return true, nil
	}

	ok, err = t.store.ClaimEvent(ctx, eventID, t.now())
	if err != nil {
		return false, fmt.Errorf("tally: claim webhook event: %w", err)
	}
	return ok, nil
}

// runClaimed dispatches a claimed event and records the outcome. Once an
// event is claimed it runs to completion even if the caller goes away:
// the provider needs a definitive processed or failed state.
func (t *Tally) runClaimed(ctx context.Context, providerName string, env *webhook.Envelope, payload webhook.Payload) error {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	ev := &webhook.Event{EventID: env.EventID, Provider: providerName, EventType: env.Type}

	if err := t.dispatch(ctx, payload); err != nil {
		msg := webhook.TruncateError(err.Error())
		if markErr := t.store.MarkEventFailed(ctx, env.EventID, msg, t.now()); markErr != nil {
			t.logger.Error("failed to mark webhook event failed", "event_id", env.EventID, "error", markErr)
		}
		t.logger.Error("webhook handler failed",
			"event_id", env.EventID,
			"event_type", env.Type,
			"error", err,
		)
		ev.Status, ev.Error = webhook.StatusFailed, msg
		t.plugins.EmitWebhookFailed(ctx, ev, err)
		return err
	}

	if err := t.store.MarkEventProcessed(ctx, env.EventID, t.now()); err != nil {
		return fmt.Errorf("tally: mark webhook event processed: %w", err)
	}
	ev.Status = webhook.StatusProcessed
	t.plugins.EmitWebhookProcessed(ctx, ev, time.Since(started))
	return nil
}

func (t *Tally) dispatch(ctx context.Context, payload webhook.Payload) error {
	switch p := payload.(type) {
	case *webhook.OrderPaid:
		return t.handleOrderPaid(ctx, p)
	case *webhook.OrderRefunded:
		return t.handleOrderRefunded(ctx, p)
	case *webhook.SubscriptionChanged:
		return t.handleSubscriptionChanged(ctx, p)
	case *webhook.CustomerChanged:
		return t.handleCustomerChanged(ctx, p)
	default:
		t.logger.Info("webhook ignored", "event_type", payload.EventType())
		return nil
	}
}

// SweepStaleEvents retries events whose handler claimed them and never
// finished (a crash, or a deploy mid-request). Each stale event is taken
// over with the same conditional update a redelivery would use, so the
// sweeper never races a live handler. It returns how many were retried.
func (t *Tally) SweepStaleEvents(ctx context.Context) (int, error) {
	now := t.now()
	cutoff := now.Add(-t.staleAfter)

	stale, err := t.store.ListStaleEvents(ctx, cutoff, t.sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("tally: list stale webhook events: %w", err)
	}

	retried := 0
	var errs []error
	for _, ev := range stale {
		ok, err := t.store.ReclaimStaleEvent(ctx, ev.EventID, cutoff, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}

		h := http.Header{}
		h.Set(webhook.HeaderID, ev.EventID)
		env, err := webhook.ParseEnvelope(ev.Payload, h)
		var payload webhook.Payload
		if err == nil {
			payload, err = webhook.Decode(env)
		}
		if err != nil {
			// Stored payloads were decoded once already; failing now means
			// the row is damaged. Park it as failed.
			msg := webhook.TruncateError(err.Error())
			if markErr := t.store.MarkEventFailed(ctx, ev.EventID, msg, t.now()); markErr != nil {
				errs = append(errs, markErr)
			}
			continue
		}

		retried++
		if err := t.runClaimed(ctx, ev.Provider, env, payload); err != nil {
			t.logger.Warn("stale webhook retry failed", "event_id", ev.EventID, "error", err)
		}
	}

	return retried, errors.Join(errs...)
}
