package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/identity"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/store"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// PurchaseOutcome is the terminal state of a purchase flow that did not fail.
type PurchaseOutcome string

const (
	// OutcomeCompleted: verified, committed and acknowledged.
	OutcomeCompleted PurchaseOutcome = "completed"
	// OutcomeCancelled: the user backed out. Expected, not a failure.
	OutcomeCancelled PurchaseOutcome = "cancelled"
	// OutcomePending: deferred by the provider; re-check later.
	OutcomePending PurchaseOutcome = "pending"
)

// PurchaseResult reports how a purchase flow ended.
type PurchaseResult struct {
	Outcome     PurchaseOutcome
	Transaction *models.PurchaseTransaction
	Entitlement *models.EntitlementState
}

// TransactionLedger records committed transactions so redelivered ones stay
// idempotent and purchases can be restored.
type TransactionLedger interface {
	RecordTransaction(userID string, tx *models.PurchaseTransaction) error
	MarkAcknowledged(transactionID string, at time.Time) error
	LatestTransaction(userID string) (*models.TransactionRecord, error)
}

// ReceiptSender sends a purchase receipt to the user. Optional.
type ReceiptSender interface {
	SendPurchaseReceipt(ctx context.Context, userID string, tx *models.PurchaseTransaction, state models.EntitlementState)
}

// OrchestratorDeps wires a PurchaseOrchestrator. An explicit instance with
// injected identity and store, so concurrent test doubles never share
// process-wide state.
type OrchestratorDeps struct {
	Identity identity.Provider
	Provider PaymentProvider
	Verifier *TransactionVerifier
	Store    store.EntitlementStore

	// Optional.
	Ledger TransactionLedger
	Mailer ReceiptSender

	ProductID string

	// Fallback billing period in months, used only when the verified
	// transaction carries no provider-declared expiry. Defaults to 1.
	BillingPeriodMonths int

	// Clock override for tests. Defaults to time.Now.
	Now func() time.Time
}

// PurchaseOrchestrator drives the purchase protocol end to end:
//
//	Idle -> Authenticating -> LookingUpProduct -> AwaitingProviderResult
//	     -> {Verifying | Cancelled | Pending} -> {Committing | Failed}
//	     -> {Done | Failed}
//
// At most one flow per user is in flight; a concurrent request for the same
// user is rejected with CodePurchaseBusy rather than interleaved, since two
// uncoordinated commits could overwrite each other's expiry.
type PurchaseOrchestrator struct {
	deps OrchestratorDeps

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewPurchaseOrchestrator creates an orchestrator.
func NewPurchaseOrchestrator(deps OrchestratorDeps) *PurchaseOrchestrator {
	if deps.BillingPeriodMonths <= 0 {
		deps.BillingPeriodMonths = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &PurchaseOrchestrator{
		deps:     deps,
		inFlight: make(map[string]bool),
	}
}

// Purchase runs one purchase flow for the current user. Cancelled and pending
// outcomes are reported in the result, not as errors; every failure is a
// *PurchaseError with a stable code.
func (o *PurchaseOrchestrator) Purchase(ctx context.Context) (*PurchaseResult, error) {
	// Authenticating
	userID, err := o.deps.Identity.CurrentUserID(ctx)
	if err != nil {
		return nil, purchaseErr(CodeNoCurrentUser, err)
	}

	if !o.begin(userID) {
		return nil, purchaseErr(CodePurchaseBusy, fmt.Errorf("purchase already in flight for user %s", userID))
	}
	defer o.end(userID)

	// LookingUpProduct
	product, err := o.deps.Provider.LookupProduct(ctx, o.deps.ProductID)
	if err != nil {
		return nil, purchaseErr(CodeUnknown, fmt.Errorf("product lookup failed: %w", err))
	}
	if product == nil {
		return nil, purchaseErr(CodeProductNotFound, fmt.Errorf("product %s not in catalog", o.deps.ProductID))
	}

	// AwaitingProviderResult. May suspend for as long as the provider keeps
	// the user in its own UI.
	result, err := o.deps.Provider.Purchase(ctx, product, userID)
	if err != nil {
		return nil, purchaseErr(CodeUnknown, fmt.Errorf("purchase submission failed: %w", err))
	}

	var tx *models.PurchaseTransaction
	switch result.Status {
	case ProviderCancelled:
		logging.Infof("Purchase cancelled by user - user: %s, product: %s", userID, product.ID)
		return &PurchaseResult{Outcome: OutcomeCancelled}, nil
	case ProviderPending:
		logging.Infof("Purchase pending - user: %s, product: %s", userID, product.ID)
		return &PurchaseResult{Outcome: OutcomePending}, nil
	case ProviderVerified:
		tx = result.Transaction
	case ProviderUnverified:
		// Verifying
		if o.deps.Verifier == nil {
			return nil, purchaseErr(CodeVerificationFailed, fmt.Errorf("no trust material configured"))
		}
		tx, err = o.deps.Verifier.Verify(result.SignedRecord)
		if err != nil {
			logging.Errorf("Transaction verification failed - user: %s, reason: %s, error: %v", userID, result.Reason, err)
			return nil, purchaseErr(CodeVerificationFailed, err)
		}
	default:
		logging.Errorf("Unclassified provider result - user: %s, status: %q", userID, result.Status)
		return nil, purchaseErr(CodeUnknown, fmt.Errorf("unclassified provider result %q", result.Status))
	}
	if tx == nil {
		return nil, purchaseErr(CodeUnknown, errors.New("provider result carried no transaction"))
	}

	// Committing. On store failure the verified transaction stays
	// re-committable; retrying is the caller's policy.
	state, err := o.Commit(ctx, userID, tx)
	if err != nil {
		return nil, err
	}

	// Done: acknowledge only after the commit succeeded. A skipped ack means
	// the provider redelivers and commit re-runs as an idempotent overwrite.
	if err := o.deps.Provider.Acknowledge(ctx, tx); err != nil {
		logging.Warnf("Failed to acknowledge transaction %s, provider will redeliver: %v", tx.TransactionID, err)
	} else if o.deps.Ledger != nil {
		if err := o.deps.Ledger.MarkAcknowledged(tx.TransactionID, o.deps.Now()); err != nil {
			logging.Errorf("Failed to mark transaction %s acknowledged: %v", tx.TransactionID, err)
		}
	}

	if o.deps.Mailer != nil {
		go o.deps.Mailer.SendPurchaseReceipt(context.WithoutCancel(ctx), userID, tx, state)
	}

	logging.Infof("Purchase completed - user: %s, transaction: %s, expires: %v", userID, tx.TransactionID, state.ExpiresAt)
	return &PurchaseResult{Outcome: OutcomeCompleted, Transaction: tx, Entitlement: &state}, nil
}

// Commit projects a verified transaction into an entitlement and upserts it.
// Safe to re-run with the same transaction: the projection is a pure function
// of the transaction, so a second commit overwrites with the same state
// instead of extending the expiry again.
func (o *PurchaseOrchestrator) Commit(ctx context.Context, userID string, tx *models.PurchaseTransaction) (models.EntitlementState, error) {
	state := o.entitlementFromTransaction(tx)

	if err := o.deps.Store.Upsert(ctx, userID, state); err != nil {
		if errors.Is(err, store.ErrWriteRejected) {
			return models.EntitlementState{}, purchaseErr(CodeWriteRejected, err)
		}
		return models.EntitlementState{}, purchaseErr(CodeStoreUnavailable, err)
	}

	// The ledger row is advisory bookkeeping; the entitlement is already
	// committed, so a ledger failure is logged rather than surfaced.
	if o.deps.Ledger != nil {
		if err := o.deps.Ledger.RecordTransaction(userID, tx); err != nil {
			logging.Errorf("Failed to record transaction %s in ledger: %v", tx.TransactionID, err)
		}
	}
	return state, nil
}

// Restore re-commits the user's most recent recorded transaction, for the
// "restore purchases" flow after a reinstall or device change. It commits, so
// it takes the same per-user in-flight slot as Purchase; a restore racing a
// purchase is rejected as busy instead of interleaving two commits.
func (o *PurchaseOrchestrator) Restore(ctx context.Context) (*PurchaseResult, error) {
	userID, err := o.deps.Identity.CurrentUserID(ctx)
	if err != nil {
		return nil, purchaseErr(CodeNoCurrentUser, err)
	}
	if o.deps.Ledger == nil {
		return nil, purchaseErr(CodeUnknown, errors.New("no transaction ledger configured"))
	}

	if !o.begin(userID) {
		return nil, purchaseErr(CodePurchaseBusy, fmt.Errorf("purchase already in flight for user %s", userID))
	}
	defer o.end(userID)

	record, err := o.deps.Ledger.LatestTransaction(userID)
	if err != nil {
		return nil, purchaseErr(CodeUnknown, fmt.Errorf("ledger lookup failed: %w", err))
	}
	if record == nil {
		return nil, purchaseErr(CodeNothingToRestore, fmt.Errorf("no recorded transactions for user %s", userID))
	}

	tx := &models.PurchaseTransaction{
		ProductID:             record.ProductID,
		TransactionID:         record.TransactionID,
		OriginalTransactionID: record.OriginalTransactionID,
		PurchaseDate:          record.PurchasedAt,
		ExpiresDate:           record.ExpiresAt,
		Environment:           record.Environment,
	}
	state, err := o.Commit(ctx, userID, tx)
	if err != nil {
		return nil, err
	}
	logging.Infof("Purchase restored - user: %s, transaction: %s", userID, tx.TransactionID)
	return &PurchaseResult{Outcome: OutcomeCompleted, Transaction: tx, Entitlement: &state}, nil
}

// entitlementFromTransaction projects a verified transaction into the premium
// state: startedAt is the purchase date and expiresAt prefers the
// provider-declared expiry, falling back to one billing period only when the
// provider gave none.
func (o *PurchaseOrchestrator) entitlementFromTransaction(tx *models.PurchaseTransaction) models.EntitlementState {
	started := tx.PurchaseDate.UTC()
	var expires time.Time
	if tx.ExpiresDate != nil {
		expires = tx.ExpiresDate.UTC()
	} else {
		expires = started.AddDate(0, o.deps.BillingPeriodMonths, 0)
	}
	return models.Normalize(models.EntitlementState{
		Tier:      models.TierPremium,
		StartedAt: &started,
		ExpiresAt: &expires,
	})
}

func (o *PurchaseOrchestrator) begin(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[userID] {
		return false
	}
	o.inFlight[userID] = true
	return true
}

func (o *PurchaseOrchestrator) end(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, userID)
}
