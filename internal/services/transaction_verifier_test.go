package services

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSigner struct {
	rootPool *x509.CertPool
	leafKey  *ecdsa.PrivateKey
	x5c      []string
}

// newTestSigner builds a root CA and a leaf signing certificate issued by it.
func newTestSigner(t *testing.T) *testSigner {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Provider Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Provider Signing"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootCert, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(rootCert)

	return &testSigner{
		rootPool: pool,
		leafKey:  leafKey,
		x5c: []string{
			base64.StdEncoding.EncodeToString(leafDER),
			base64.StdEncoding.EncodeToString(rootDER),
		},
	}
}

func (s *testSigner) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = s.x5c
	signed, err := token.SignedString(s.leafKey)
	require.NoError(t, err)
	return signed
}

func TestVerifyAcceptsChainToTrustedRoot(t *testing.T) {
	signer := newTestSigner(t)
	v := NewTransactionVerifier(signer.rootPool)

	signed := signer.sign(t, &transactionClaims{
		TransactionID:         "txn-100",
		OriginalTransactionID: "txn-1",
		ProductID:             "com.shapenote.premium.monthly",
		PurchaseDateMs:        ts("2024-01-01T00:00:00Z").UnixMilli(),
		ExpiresDateMs:         ts("2024-02-01T00:00:00Z").UnixMilli(),
		Environment:           "sandbox",
	})

	tx, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "txn-100", tx.TransactionID)
	assert.Equal(t, "txn-1", tx.OriginalTransactionID)
	assert.Equal(t, "com.shapenote.premium.monthly", tx.ProductID)
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), tx.PurchaseDate)
	require.NotNil(t, tx.ExpiresDate)
	assert.Equal(t, ts("2024-02-01T00:00:00Z"), *tx.ExpiresDate)
	assert.Equal(t, "sandbox", tx.Environment)
}

func TestVerifyOmitsAbsentExpiry(t *testing.T) {
	signer := newTestSigner(t)
	v := NewTransactionVerifier(signer.rootPool)

	signed := signer.sign(t, &transactionClaims{
		TransactionID:  "txn-101",
		ProductID:      "com.shapenote.premium.lifetime",
		PurchaseDateMs: ts("2024-01-01T00:00:00Z").UnixMilli(),
	})

	tx, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Nil(t, tx.ExpiresDate)
}

func TestVerifyRejectsUntrustedChain(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)

	// verifier trusts a different root than the one that issued the leaf
	v := NewTransactionVerifier(other.rootPool)

	signed := signer.sign(t, &transactionClaims{
		TransactionID:  "txn-102",
		ProductID:      "com.shapenote.premium.monthly",
		PurchaseDateMs: ts("2024-01-01T00:00:00Z").UnixMilli(),
	})

	_, err := v.Verify(signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signed transaction rejected")
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := newTestSigner(t)
	v := NewTransactionVerifier(signer.rootPool)

	signed := signer.sign(t, &transactionClaims{
		TransactionID:  "txn-103",
		ProductID:      "com.shapenote.premium.monthly",
		PurchaseDateMs: ts("2024-01-01T00:00:00Z").UnixMilli(),
	})

	// splice in a payload claiming a different transaction
	forged := signer.sign(t, &transactionClaims{
		TransactionID:  "txn-forged",
		ProductID:      "com.shapenote.premium.monthly",
		PurchaseDateMs: ts("2024-01-01T00:00:00Z").UnixMilli(),
	})
	tampered := splice(signed, forged)

	_, err := v.Verify(tampered)
	require.Error(t, err)
}

// splice pairs the first token's signature with the second token's payload.
func splice(original, donor string) string {
	origParts := split3(original)
	donorParts := split3(donor)
	return donorParts[0] + "." + donorParts[1] + "." + origParts[2]
}

func split3(token string) [3]string {
	var parts [3]string
	idx := 0
	start := 0
	for i := 0; i < len(token) && idx < 2; i++ {
		if token[i] == '.' {
			parts[idx] = token[start:i]
			start = i + 1
			idx++
		}
	}
	parts[2] = token[start:]
	return parts
}

func TestVerifyRejectsMissingChain(t *testing.T) {
	signer := newTestSigner(t)
	v := NewTransactionVerifier(signer.rootPool)

	token := jwt.NewWithClaims(jwt.SigningMethodES256, &transactionClaims{
		TransactionID:  "txn-104",
		ProductID:      "com.shapenote.premium.monthly",
		PurchaseDateMs: ts("2024-01-01T00:00:00Z").UnixMilli(),
	})
	signed, err := token.SignedString(signer.leafKey)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x5c")
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	signer := newTestSigner(t)
	v := NewTransactionVerifier(signer.rootPool)

	signed := signer.sign(t, &transactionClaims{
		ProductID:      "com.shapenote.premium.monthly",
		PurchaseDateMs: ts("2024-01-01T00:00:00Z").UnixMilli(),
	})

	_, err := v.Verify(signed)
	require.Error(t, err)
}

func TestVerifyRejectsEmptyRecord(t *testing.T) {
	v := NewTransactionVerifier(x509.NewCertPool())
	_, err := v.Verify("")
	require.Error(t, err)
}
