package store

import (
	"context"
	"errors"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
)

var (
	// ErrStoreUnavailable indicates a transport-level failure talking to the
	// remote document store. Transient; the caller may retry.
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	// ErrWriteRejected indicates the store refused the write (permission or
	// policy). Not retryable without intervention.
	ErrWriteRejected = errors.New("entitlement write rejected")
)

// CancelFunc stops a standing subscription. It is the only sanctioned way to
// stop delivery and is safe to call at any time; after it returns, at most
// one already-in-flight delivery may still arrive.
type CancelFunc func()

// EntitlementStore is the sole boundary between entitlement logic and the
// remote document database. Implementations own the durable EntitlementState
// per user; nothing else writes entitlement fields.
type EntitlementStore interface {
	// Fetch performs a one-shot read. A missing record is not an error: it
	// returns the normalized default (free, no dates).
	Fetch(ctx context.Context, userID string) (models.EntitlementState, error)

	// Listen establishes a standing subscription on the user's document. It
	// invokes onChange once immediately with the current normalized state and
	// again on every subsequent remote mutation, including writes made by
	// this process, in the document's write order. Listener failures are
	// reported through onError. The last known state is never silently
	// frozen; the caller may re-subscribe.
	Listen(ctx context.Context, userID string, onChange func(models.EntitlementState), onError func(error)) (CancelFunc, error)

	// Upsert merges the entitlement fields into the user's document without
	// touching unrelated fields. The write is all-or-nothing. updatedAt is
	// assigned by the store, not the caller.
	Upsert(ctx context.Context, userID string, state models.EntitlementState) error
}
