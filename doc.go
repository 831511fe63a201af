// Package tally is a usage-based entitlement ledger for metered seconds.
//
// Users buy recurring subscriptions or one-off packs through a payment
// provider. Every purchase becomes a credit lot holding a number of
// seconds. Usage draws seconds from lots, subscription lots first and then
// packs, earliest expiry first. Usage that no lot can cover becomes debt;
// once debt reaches the configured cap the user is blocked until a new
// grant pays it down.
//
// Tally is a library. The host application reports usage, asks whether a
// job may start and forwards provider webhooks; tally keeps the balances.
//
// # Quick Start
//
//	store := memory.New() // or postgres.New(db), sqlite.New(db), mongo.New(db)
//
//	client, err := polar.New(polar.Config{AccessToken: token, Server: "production"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t := tally.New(store,
//	    tally.WithProvider(client),
//	    tally.WithWebhookSecret(secret),
//	)
//	if err := t.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Stop()
//
//	if err := t.EnsureUsageAllowed(ctx, userID, 120); err != nil {
//	    // tally.ErrUsageBlocked, tally.ErrInsufficientCredit, ...
//	}
//	_ = t.RecordUsage(ctx, userID, jobID, 118)
//
// Settings can also come from a file and TALLY_* environment variables
// through the config package (config.Load, then cfg.Options()).
//
// # Webhooks
//
// HandleWebhook verifies a Standard Webhooks signature, stores the event
// under its provider id and processes it at most once at a time. A nil
// error means the delivery can be acknowledged, including duplicates.
// Events whose handler died mid-flight are picked up again by a later
// delivery or by the background sweeper once they are older than the
// stale threshold.
//
// # Consistency
//
// Stores expose only single-row atomic operations: insert-if-absent and
// compare-and-swap. Every read-modify-write in the engine is a bounded
// compare-and-swap loop that re-reads on conflict, so several engine
// instances may share one store without locks.
//
// # TypeID
//
// Records use TypeIDs:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan
//	lot_01h2xcejqtf2nbrexx3vqjhp41   // Credit lot
//	ord_01h455vb4pex5vsknk084sn02q   // Order
package tally
