/**
 * @description
 * This file implements the webhook reconciler. It authenticates inbound
 * notifications from the payout network and maps authenticated events onto
 * payment and audit rows.
 *
 * Two signing schemes are supported:
 *   1. Structured multi-item batches, where every item carries its own
 *      HMAC-SHA256 signature computed over a fixed field concatenation.
 *   2. Legacy flat notifications (single object or array), where the whole
 *      raw request body is signed as one blob and the signature arrives in a
 *      request header.
 *
 * Signature verification is all-or-nothing: a single bad item signature
 * rejects the entire batch before any persistence write. Unknown payment
 * references, by contrast, are skipped silently so one stray notification
 * cannot poison an otherwise valid batch.
 *
 * @dependencies
 * - internal/store: payment and audit persistence.
 * - pkg/rabbitmq: payout lifecycle events.
 */

package app

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paydesk/payout-service/internal/domain"
	"github.com/paydesk/payout-service/internal/store"
	"github.com/paydesk/payout-service/pkg/rabbitmq"
)

var (
	// ErrHMACKeyMissing means the service has no shared secret configured.
	ErrHMACKeyMissing = errors.New("missing HMAC key configuration")
	// ErrSignatureInvalid means a signature was absent or did not verify.
	ErrSignatureInvalid = errors.New("invalid HMAC signature")
	// ErrMalformedNotification means the body could not be parsed.
	ErrMalformedNotification = errors.New("malformed notification body")
)

// PaidMethodWebhook is recorded on payments confirmed via webhook.
const PaidMethodWebhook = "adyen"

// WebhookService reconciles payout-network notifications onto payments.
type WebhookService struct {
	repo          store.Repository
	hmacKey       string
	eventProducer rabbitmq.Publisher
}

// NewWebhookService creates a reconciler. hmacKey is the hex-encoded shared
// secret issued by the payout network.
func NewWebhookService(repo store.Repository, hmacKey string, producer rabbitmq.Publisher) *WebhookService {
	return &WebhookService{repo: repo, hmacKey: hmacKey, eventProducer: producer}
}

// HandleNotification authenticates and processes one webhook request.
//
// signatureHeader is the legacy whole-body signature header value, which may
// be empty for structured batches (those are signed per item). body is the
// raw request body exactly as received.
//
// Authentication failures return ErrSignatureInvalid or ErrHMACKeyMissing
// before any persistence write. Per-item processing failures after successful
// authentication are logged and swallowed so the sender still receives an
// acknowledgment and does not redeliver forever.
func (s *WebhookService) HandleNotification(ctx context.Context, signatureHeader string, body []byte) error {
	if s.hmacKey == "" {
		return ErrHMACKeyMissing
	}

	if batch, ok := parseStructuredBatch(body); ok {
		return s.handleStructured(ctx, batch)
	}
	return s.handleLegacy(ctx, signatureHeader, body)
}

// handleStructured verifies every item's signature, then processes items in
// order. Verification strictly precedes processing: one bad signature means
// zero writes.
func (s *WebhookService) handleStructured(ctx context.Context, batch *domain.NotificationBatch) error {
	key, err := hex.DecodeString(s.hmacKey)
	if err != nil {
		return fmt.Errorf("%w: secret is not valid hex", ErrHMACKeyMissing)
	}

	for i, item := range batch.NotificationItems {
		if !verifyItemSignature(key, item.NotificationRequestItem) {
			log.Printf("level=warn component=webhook msg=\"item signature mismatch, rejecting batch\" item=%d psp_reference=%s",
				i, item.NotificationRequestItem.PSPReference)
			return ErrSignatureInvalid
		}
	}

	for _, item := range batch.NotificationItems {
		s.processStructuredItem(ctx, item.NotificationRequestItem)
	}
	return nil
}

func (s *WebhookService) processStructuredItem(ctx context.Context, item domain.NotificationRequestItem) {
	ref := strings.TrimSpace(item.MerchantReference)
	if ref == "" {
		return
	}
	if _, err := s.repo.FindPaymentByID(ctx, ref); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=info component=webhook msg=\"notification for unknown payment, skipping\" reference=%s", ref)
			return
		}
		log.Printf("level=error component=webhook msg=\"payment lookup failed\" reference=%s err=%v", ref, err)
		return
	}

	success := item.Success == "true" && item.EventCode == domain.EventCodePayoutConfirmed
	if success {
		s.markPaid(ctx, ref, item.PSPReference)
	}

	status := item.EventCode
	if status == "" {
		status = "received"
	}
	if !success {
		status += "_FAILED"
	}
	s.appendAudit(ctx, ref, status, nilIfEmpty(item.Reason), nilIfEmpty(item.PSPReference))
}

// handleLegacy verifies the whole-body signature against the request header
// and then applies each notification in the body.
func (s *WebhookService) handleLegacy(ctx context.Context, signatureHeader string, body []byte) error {
	if signatureHeader == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}
	key, err := hex.DecodeString(s.hmacKey)
	if err != nil {
		return fmt.Errorf("%w: secret is not valid hex", ErrHMACKeyMissing)
	}
	if !hmac.Equal([]byte(signatureHeader), []byte(signBody(key, body))) {
		return ErrSignatureInvalid
	}

	items, err := parseLegacyItems(body)
	if err != nil {
		return err
	}
	for _, item := range items {
		s.processLegacyItem(ctx, item)
	}
	return nil
}

func (s *WebhookService) processLegacyItem(ctx context.Context, item domain.LegacyNotification) {
	ref := strings.TrimSpace(item.Reference())
	if ref == "" {
		return
	}
	if _, err := s.repo.FindPaymentByID(ctx, ref); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=info component=webhook msg=\"notification for unknown payment, skipping\" reference=%s", ref)
			return
		}
		log.Printf("level=error component=webhook msg=\"payment lookup failed\" reference=%s err=%v", ref, err)
		return
	}

	status := item.Status
	if status == "" {
		status = item.EventCode
	}
	if status == "" {
		status = "received"
	}

	if legacySuccessStatus(status) {
		s.markPaid(ctx, ref, item.PSPReference)
	}

	message := item.Message
	if message == "" {
		message = item.Reason
	}
	s.appendAudit(ctx, ref, status, nilIfEmpty(message), nilIfEmpty(item.PSPReference))
}

// markPaid sets the paid fields on the payment unless an earlier writer beat
// us to it. Redeliveries of the same confirmation therefore never overwrite
// tracking fields.
func (s *WebhookService) markPaid(ctx context.Context, paymentID, pspReference string) {
	updated, err := s.repo.MarkPaymentPaid(ctx, paymentID, PaidMethodWebhook, pspReference, "", time.Now().UTC())
	if err != nil {
		log.Printf("level=error component=webhook msg=\"failed to mark payment paid\" payment_id=%s err=%v", paymentID, err)
		return
	}
	if !updated {
		log.Printf("level=info component=webhook msg=\"payment already paid, keeping original tracking fields\" payment_id=%s", paymentID)
		return
	}
	log.Printf("level=info component=webhook msg=\"payment confirmed paid\" payment_id=%s psp_reference=%s", paymentID, pspReference)

	if s.eventProducer != nil {
		event := rabbitmq.PayoutEvent{
			PaymentID:    paymentID,
			Status:       "confirmed",
			PSPReference: pspReference,
			Timestamp:    time.Now().UTC(),
		}
		if err := s.eventProducer.PublishPayoutEvent(ctx, "payout.confirmed", event); err != nil {
			log.Printf("level=warn component=webhook msg=\"failed to publish confirmation event\" payment_id=%s err=%v", paymentID, err)
		}
	}
}

func (s *WebhookService) appendAudit(ctx context.Context, paymentID, status string, message, pspReference *string) {
	audit := &domain.PayoutAudit{
		ID:           uuid.New(),
		PaymentID:    paymentID,
		Status:       status,
		Message:      message,
		PSPReference: pspReference,
	}
	if err := s.repo.AppendAudit(ctx, audit); err != nil {
		log.Printf("level=error component=webhook msg=\"failed to append audit row\" payment_id=%s status=%s err=%v",
			paymentID, status, err)
	}
}

// parseStructuredBatch reports whether the body is a structured multi-item
// batch. A body without a notificationItems array falls back to the legacy
// path.
func parseStructuredBatch(body []byte) (*domain.NotificationBatch, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var batch domain.NotificationBatch
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, false
	}
	if batch.NotificationItems == nil {
		return nil, false
	}
	return &batch, true
}

// parseLegacyItems accepts either a single legacy object or an array of them.
func parseLegacyItems(body []byte) ([]domain.LegacyNotification, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []domain.LegacyNotification
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		return items, nil
	}
	var item domain.LegacyNotification
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return []domain.LegacyNotification{item}, nil
}

// verifyItemSignature checks one structured item's embedded HMAC signature in
// constant time.
func verifyItemSignature(key []byte, item domain.NotificationRequestItem) bool {
	embedded := item.HMACSignature()
	if embedded == "" {
		return false
	}
	expected := signItem(key, item)
	return hmac.Equal([]byte(embedded), []byte(expected))
}

// signItem computes the per-item signature: the signed fields in fixed order,
// each with backslash and colon escaped, joined by colons, HMAC-SHA256 under
// the decoded secret, base64-encoded.
func signItem(key []byte, item domain.NotificationRequestItem) string {
	fields := []string{
		item.PSPReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escapeSignedField(f)
	}
	payload := strings.Join(escaped, ":")

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signBody computes the legacy whole-body signature over the raw bytes.
func signBody(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func escapeSignedField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}

// legacySuccessStatus reports whether a legacy status string indicates a
// confirmed payout.
func legacySuccessStatus(status string) bool {
	switch status {
	case domain.EventCodePayoutConfirmed, "SUCCESS", "paid":
		return true
	}
	return false
}
