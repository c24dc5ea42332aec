package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
)

// Product is a purchasable catalog entry.
type Product struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Price       string `json:"price"`
}

// ProviderStatus is the outcome of a purchase submission.
type ProviderStatus string

const (
	// ProviderVerified: the provider's SDK already verified the transaction.
	ProviderVerified ProviderStatus = "verified"
	// ProviderUnverified: success, but the signed record has not been checked
	// yet. The orchestrator runs its own signature verification before
	// trusting it.
	ProviderUnverified ProviderStatus = "unverified"
	// ProviderCancelled: the user backed out in the provider's own UI. An
	// expected outcome, not a defect.
	ProviderCancelled ProviderStatus = "cancelled"
	// ProviderPending: deferred, e.g. awaiting parental approval. The caller
	// re-checks later instead of retrying immediately.
	ProviderPending ProviderStatus = "pending"
)

// ProviderResult carries one purchase outcome.
type ProviderResult struct {
	Status ProviderStatus

	// Transaction is set for ProviderVerified results.
	Transaction *models.PurchaseTransaction

	// SignedRecord is the raw JWS for ProviderUnverified results.
	SignedRecord string

	// Reason describes why the record came back unverified, when known.
	Reason string
}

// PaymentProvider is the payment provider contract. The purchase submission
// may suspend for as long as the provider keeps the user in its own UI; it is
// bounded only by ctx. Cancelling ctx stops local waiting but cannot stop a
// purchase the provider may still complete server-side. Such transactions
// come back through redelivery and are committed then.
type PaymentProvider interface {
	// LookupProduct queries the catalog. (nil, nil) means no such product.
	LookupProduct(ctx context.Context, productID string) (*Product, error)

	// Purchase submits a purchase for the given app account.
	Purchase(ctx context.Context, product *Product, appAccountToken string) (*ProviderResult, error)

	// Acknowledge tells the provider the transaction was processed so it is
	// not redelivered on next launch.
	Acknowledge(ctx context.Context, tx *models.PurchaseTransaction) error
}

// HTTPPaymentProvider talks to the payment provider's server API.
type HTTPPaymentProvider struct {
	baseURL string

	// purchase submissions have no client-side timeout; they are bounded by
	// the request context only
	purchaseClient *http.Client
	httpClient     *http.Client
}

// NewHTTPPaymentProvider creates a provider adapter for the given base URL.
func NewHTTPPaymentProvider(baseURL string) *HTTPPaymentProvider {
	return &HTTPPaymentProvider{
		baseURL:        baseURL,
		purchaseClient: &http.Client{},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type catalogResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Price       string `json:"price"`
}

// LookupProduct queries the provider catalog for a single product.
func (p *HTTPPaymentProvider) LookupProduct(ctx context.Context, productID string) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/catalog/%s", p.baseURL, productID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog lookup failed: status %d", resp.StatusCode)
	}

	var catalog catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}
	return &Product{ID: catalog.ID, DisplayName: catalog.DisplayName, Price: catalog.Price}, nil
}

type purchaseRequest struct {
	ProductID       string `json:"product_id"`
	AppAccountToken string `json:"app_account_token"`
}

type purchaseResponse struct {
	Status            string `json:"status"`
	SignedTransaction string `json:"signed_transaction"`
	Reason            string `json:"reason"`
}

// Purchase submits the purchase request. A signed record coming over the wire
// is never trusted as-is: it is always returned as ProviderUnverified so the
// orchestrator runs the signature check itself.
func (p *HTTPPaymentProvider) Purchase(ctx context.Context, product *Product, appAccountToken string) (*ProviderResult, error) {
	body, err := json.Marshal(purchaseRequest{ProductID: product.ID, AppAccountToken: appAccountToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/purchase", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.purchaseClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit purchase: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read purchase response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("purchase submission failed: status %d", resp.StatusCode)
	}

	var parsed purchaseResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse purchase response: %w", err)
	}

	switch parsed.Status {
	case "success", "verified", "unverified":
		return &ProviderResult{
			Status:       ProviderUnverified,
			SignedRecord: parsed.SignedTransaction,
			Reason:       parsed.Reason,
		}, nil
	case "cancelled":
		return &ProviderResult{Status: ProviderCancelled}, nil
	case "pending":
		return &ProviderResult{Status: ProviderPending}, nil
	default:
		return nil, fmt.Errorf("unclassified provider status %q", parsed.Status)
	}
}

// Acknowledge confirms the transaction to the provider.
func (p *HTTPPaymentProvider) Acknowledge(ctx context.Context, tx *models.PurchaseTransaction) error {
	url := fmt.Sprintf("%s/transactions/%s/acknowledge", p.baseURL, tx.TransactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to acknowledge transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("acknowledge failed: status %d", resp.StatusCode)
	}
	return nil
}
