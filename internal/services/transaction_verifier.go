package services

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
)

// TransactionVerifier 签名交易验证器
// 提供方返回的交易记录是 JWS（ES256），头部 x5c 携带证书链。
// 验证链路必须收敛到配置的受信根证书，签名校验失败一律拒绝，
// 绝不降级为成功
type TransactionVerifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewTransactionVerifier 使用受信根证书池创建验证器
func NewTransactionVerifier(roots *x509.CertPool) *TransactionVerifier {
	return &TransactionVerifier{roots: roots, now: time.Now}
}

// NewTransactionVerifierFromFile 从 PEM 文件加载受信根证书
func NewTransactionVerifierFromFile(path string) (*TransactionVerifier, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return NewTransactionVerifier(roots), nil
}

// transactionClaims 签名交易记录的载荷
// 时间为毫秒时间戳
type transactionClaims struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDateMs        int64  `json:"purchaseDate"`
	ExpiresDateMs         int64  `json:"expiresDate,omitempty"`
	Environment           string `json:"environment"`
	jwt.RegisteredClaims
}

// Verify 验证签名交易记录
// 成功返回可信的 PurchaseTransaction，任何一步失败都返回错误
func (v *TransactionVerifier) Verify(signedRecord string) (*models.PurchaseTransaction, error) {
	if signedRecord == "" {
		return nil, fmt.Errorf("empty signed transaction record")
	}

	claims := &transactionClaims{}
	_, err := jwt.ParseWithClaims(signedRecord, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return nil, fmt.Errorf("signed transaction rejected: %w", err)
	}

	if claims.TransactionID == "" || claims.ProductID == "" {
		return nil, fmt.Errorf("signed transaction missing required fields")
	}
	if claims.PurchaseDateMs <= 0 {
		return nil, fmt.Errorf("signed transaction has invalid purchase date")
	}

	tx := &models.PurchaseTransaction{
		ProductID:             claims.ProductID,
		TransactionID:         claims.TransactionID,
		OriginalTransactionID: claims.OriginalTransactionID,
		PurchaseDate:          time.UnixMilli(claims.PurchaseDateMs).UTC(),
		Environment:           claims.Environment,
	}
	if claims.ExpiresDateMs > 0 {
		expires := time.UnixMilli(claims.ExpiresDateMs).UTC()
		tx.ExpiresDate = &expires
	}
	return tx, nil
}

// keyFunc 从 x5c 头部取出证书链，验证到受信根后返回叶子公钥
func (v *TransactionVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	chain, err := parseCertificateChain(token.Header)
	if err != nil {
		return nil, err
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return nil, fmt.Errorf("certificate chain verification failed: %w", err)
	}

	publicKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("leaf certificate does not contain ECDSA public key")
	}
	return publicKey, nil
}

// parseCertificateChain 解析 x5c 头部（base64 DER，叶子在前）
func parseCertificateChain(header map[string]interface{}) ([]*x509.Certificate, error) {
	raw, ok := header["x5c"]
	if !ok {
		return nil, fmt.Errorf("missing x5c header")
	}
	entries, ok := raw.([]interface{})
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("invalid x5c header")
	}

	chain := make([]*x509.Certificate, 0, len(entries))
	for i, entry := range entries {
		encoded, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("invalid x5c entry %d", i)
		}
		der, err := decodeCertificate(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate %d: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// decodeCertificate 兼容裸 base64 DER 和带 PEM 头尾的证书
func decodeCertificate(encoded string) ([]byte, error) {
	if block, _ := pem.Decode([]byte(encoded)); block != nil {
		return block.Bytes, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}
