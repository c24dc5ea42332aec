package services

import (
	"context"
	"fmt"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/config"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/database"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// ReceiptMailer sends purchase receipt emails via Brevo.
type ReceiptMailer struct {
	client    *brevo.APIClient
	fromName  string
	fromEmail string
}

// NewReceiptMailer creates a mailer, or nil when no Brevo API key is
// configured (receipts are then skipped).
func NewReceiptMailer() *ReceiptMailer {
	if config.AppConfig.BrevoAPIKey == "" {
		logging.Warnf("BREVO_API_KEY not set, purchase receipt emails disabled")
		return nil
	}
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", config.AppConfig.BrevoAPIKey)
	return &ReceiptMailer{
		client:    brevo.NewAPIClient(cfg),
		fromName:  config.AppConfig.BrevoFromName,
		fromEmail: config.AppConfig.BrevoFromEmail,
	}
}

// SendPurchaseReceipt sends a receipt for a completed purchase. Called in a
// goroutine by the orchestrator; failures are logged, never surfaced into the
// purchase result.
func (m *ReceiptMailer) SendPurchaseReceipt(ctx context.Context, userID string, tx *models.PurchaseTransaction, state models.EntitlementState) {
	email, err := database.UserEmail(ctx, userID)
	if err != nil {
		logging.Errorf("Cannot send receipt, user email lookup failed - user: %s, error: %v", userID, err)
		return
	}
	if email == "" {
		return
	}

	expires := "—"
	if state.ExpiresAt != nil {
		expires = state.ExpiresAt.Format("2006-01-02")
	}

	subject := "购买凭证 - ShapeNote Premium"
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><meta charset="UTF-8"><title>购买凭证</title></head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
				<h1 style="color: #333;">感谢订阅 ShapeNote Premium</h1>
				<p style="color: #666; font-size: 16px;">订单号：%s</p>
				<p style="color: #666; font-size: 16px;">有效期至：%s</p>
				<p style="color: #999; font-size: 12px; margin-top: 30px;">如果这不是您的操作，请联系客服。</p>
			</div>
		</body>
		</html>
	`, tx.TransactionID, expires)

	textContent := fmt.Sprintf("感谢订阅 ShapeNote Premium\n\n订单号：%s\n有效期至：%s\n", tx.TransactionID, expires)

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, _, err = m.client.TransactionalEmailsApi.SendTransacEmail(sendCtx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: m.fromName, Email: m.fromEmail},
		To:          []brevo.SendSmtpEmailTo{{Email: email}},
		Subject:     subject,
		HtmlContent: htmlContent,
		TextContent: textContent,
	})
	if err != nil {
		logging.Errorf("Failed to send receipt email - user: %s, transaction: %s, error: %v", userID, tx.TransactionID, err)
		return
	}
	logging.Infof("Receipt email sent - user: %s, transaction: %s", userID, tx.TransactionID)
}
