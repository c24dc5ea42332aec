package services

import (
	"errors"
	"fmt"
)

// PurchaseErrorCode classifies every terminal non-success outcome of the
// purchase flow. None of these are recovered automatically inside the
// orchestrator; retry and re-prompt are the caller's policy.
type PurchaseErrorCode string

const (
	// CodeNoCurrentUser: no resolved identity. Terminal, no retry.
	CodeNoCurrentUser PurchaseErrorCode = "no_current_user"
	// CodeProductNotFound: the provider catalog returned no product. Terminal.
	CodeProductNotFound PurchaseErrorCode = "product_not_found"
	// CodePurchaseBusy: another purchase flow is already in flight for this
	// user. The request is rejected, not interleaved.
	CodePurchaseBusy PurchaseErrorCode = "purchase_busy"
	// CodeNothingToRestore: restore was requested but the ledger has no
	// recorded transaction for the user. Terminal.
	CodeNothingToRestore PurchaseErrorCode = "nothing_to_restore"
	// CodeVerificationFailed: the signed transaction record failed the
	// signature check. Security-relevant; never downgraded to success.
	CodeVerificationFailed PurchaseErrorCode = "verification_failed"
	// CodeStoreUnavailable: the entitlement store was unreachable during
	// commit. Transient; the verified transaction stays re-committable.
	CodeStoreUnavailable PurchaseErrorCode = "store_unavailable"
	// CodeWriteRejected: the entitlement store refused the write. Not
	// retryable without intervention.
	CodeWriteRejected PurchaseErrorCode = "write_rejected"
	// CodeUnknown: unclassified provider response, logged for investigation.
	CodeUnknown PurchaseErrorCode = "unknown"
)

// PurchaseError is a classified terminal failure of the purchase flow.
type PurchaseError struct {
	Code PurchaseErrorCode
	Err  error
}

func (e *PurchaseError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

func purchaseErr(code PurchaseErrorCode, err error) *PurchaseError {
	return &PurchaseError{Code: code, Err: err}
}

// ErrorCode extracts the purchase error code from err, or CodeUnknown.
func ErrorCode(err error) PurchaseErrorCode {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}
