package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/paydesk/payout-service/internal/domain"
)

// testHMACKey is "secret-key" hex-encoded.
const testHMACKey = "7365637265742d6b6579"

func signLegacyBody(t *testing.T, body []byte) string {
	t.Helper()
	key, err := hex.DecodeString(testHMACKey)
	if err != nil {
		t.Fatalf("failed to decode test key: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func structuredItem(t *testing.T, merchantRef, eventCode, success, psp string, sign bool) domain.NotificationItem {
	t.Helper()
	item := domain.NotificationRequestItem{
		AdditionalData:      map[string]string{},
		Amount:              domain.NotificationAmount{Currency: "EUR", Value: 2500},
		EventCode:           eventCode,
		MerchantAccountCode: "PaydeskECOM",
		MerchantReference:   merchantRef,
		PSPReference:        psp,
		Success:             success,
	}
	if sign {
		key, err := hex.DecodeString(testHMACKey)
		if err != nil {
			t.Fatalf("failed to decode test key: %v", err)
		}
		item.AdditionalData["hmacSignature"] = signItem(key, item)
	}
	return domain.NotificationItem{NotificationRequestItem: item}
}

func marshalBatch(t *testing.T, items ...domain.NotificationItem) []byte {
	t.Helper()
	body, err := json.Marshal(domain.NotificationBatch{Live: "false", NotificationItems: items})
	if err != nil {
		t.Fatalf("failed to marshal batch: %v", err)
	}
	return body
}

func newWebhookRepo() *repoStub {
	repo := newRepoStub()
	userID := int64(7)
	repo.payments["2001"] = &domain.Payment{PaymentID: "2001", UserID: &userID, Amount: "25.00"}
	return repo
}

func TestHandleNotification_StructuredConfirmationMarksPaid(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := marshalBatch(t, structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSPREF1", true))
	if err := svc.HandleNotification(context.Background(), "", body); err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}

	payment := repo.payments["2001"]
	if payment.Paid == nil {
		t.Fatal("expected payment marked paid")
	}
	if payment.PaidMethod == nil || *payment.PaidMethod != PaidMethodWebhook {
		t.Fatalf("unexpected paid method: %v", payment.PaidMethod)
	}
	if payment.PaidTrackingID == nil || *payment.PaidTrackingID != "PSPREF1" {
		t.Fatalf("unexpected tracking id: %v", payment.PaidTrackingID)
	}

	statuses := repo.auditStatuses("2001")
	if len(statuses) != 1 || statuses[0] != domain.EventCodePayoutConfirmed {
		t.Fatalf("unexpected audit trail: %v", statuses)
	}
}

func TestHandleNotification_StructuredUnsuccessfulGetsFailedSuffix(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := marshalBatch(t, structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "false", "PSPREF2", true))
	if err := svc.HandleNotification(context.Background(), "", body); err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}

	if repo.payments["2001"].Paid != nil {
		t.Fatal("unsuccessful notification must not mark paid")
	}
	statuses := repo.auditStatuses("2001")
	if len(statuses) != 1 || statuses[0] != "PAYOUT_CONFIRMED_FAILED" {
		t.Fatalf("unexpected audit trail: %v", statuses)
	}
}

func TestHandleNotification_StructuredWrongEventCodeDoesNotMarkPaid(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := marshalBatch(t, structuredItem(t, "2001", "PAYOUT_DECLINE", "true", "PSPREF3", true))
	if err := svc.HandleNotification(context.Background(), "", body); err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if repo.payments["2001"].Paid != nil {
		t.Fatal("non-confirmation event must not mark paid")
	}
	statuses := repo.auditStatuses("2001")
	if len(statuses) != 1 || statuses[0] != "PAYOUT_DECLINE_FAILED" {
		t.Fatalf("unexpected audit trail: %v", statuses)
	}
}

func TestHandleNotification_OneBadSignatureRejectsWholeBatch(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	good := structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSPREF4", true)
	bad := structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSPREF5", true)
	bad.NotificationRequestItem.AdditionalData["hmacSignature"] = "dGFtcGVyZWQ="

	err := svc.HandleNotification(context.Background(), "", marshalBatch(t, good, bad))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if repo.payments["2001"].Paid != nil || len(repo.audits) != 0 {
		t.Fatal("a rejected batch must produce zero persistence writes")
	}
}

func TestHandleNotification_MissingItemSignatureRejectsBatch(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := marshalBatch(t, structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSPREF6", false))
	if err := svc.HandleNotification(context.Background(), "", body); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if len(repo.audits) != 0 {
		t.Fatal("expected zero writes")
	}
}

func TestHandleNotification_TamperedFieldFailsVerification(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	item := structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "false", "PSPREF7", true)
	// Flip success after signing.
	item.NotificationRequestItem.Success = "true"

	err := svc.HandleNotification(context.Background(), "", marshalBatch(t, item))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if repo.payments["2001"].Paid != nil {
		t.Fatal("tampered item must not mark paid")
	}
}

func TestHandleNotification_UnknownReferenceSkippedSilently(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	known := structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSPREF8", true)
	unknown := structuredItem(t, "9999", domain.EventCodePayoutConfirmed, "true", "PSPREF9", true)

	if err := svc.HandleNotification(context.Background(), "", marshalBatch(t, unknown, known)); err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if repo.payments["2001"].Paid == nil {
		t.Fatal("known payment should still be processed")
	}
	if got := repo.auditStatuses("9999"); len(got) != 0 {
		t.Fatalf("unknown reference must not write audits, got %v", got)
	}
}

func TestHandleNotification_RedeliveryKeepsOriginalTrackingFields(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	first := marshalBatch(t, structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSP-FIRST", true))
	if err := svc.HandleNotification(context.Background(), "", first); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	paidAt := *repo.payments["2001"].Paid

	second := marshalBatch(t, structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSP-SECOND", true))
	if err := svc.HandleNotification(context.Background(), "", second); err != nil {
		t.Fatalf("redelivery returned error: %v", err)
	}

	payment := repo.payments["2001"]
	if *payment.PaidTrackingID != "PSP-FIRST" {
		t.Fatalf("redelivery overwrote tracking id: %v", *payment.PaidTrackingID)
	}
	if !payment.Paid.Equal(paidAt) {
		t.Fatal("redelivery changed the paid timestamp")
	}
	// The duplicate still lands in the audit history.
	if statuses := repo.auditStatuses("2001"); len(statuses) != 2 {
		t.Fatalf("expected both deliveries audited, got %v", statuses)
	}
}

func TestHandleNotification_LegacySingleObject(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := []byte(`{"payment_id": 2001, "status": "PAYOUT_CONFIRMED", "pspReference": "LEGACY1"}`)
	if err := svc.HandleNotification(context.Background(), signLegacyBody(t, body), body); err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}

	payment := repo.payments["2001"]
	if payment.Paid == nil {
		t.Fatal("expected payment marked paid")
	}
	if *payment.PaidTrackingID != "LEGACY1" {
		t.Fatalf("unexpected tracking id: %v", *payment.PaidTrackingID)
	}
	if statuses := repo.auditStatuses("2001"); len(statuses) != 1 || statuses[0] != "PAYOUT_CONFIRMED" {
		t.Fatalf("unexpected audit trail: %v", statuses)
	}
}

func TestHandleNotification_LegacyArrayAndSuccessStatuses(t *testing.T) {
	for _, status := range []string{"PAYOUT_CONFIRMED", "SUCCESS", "paid"} {
		t.Run(status, func(t *testing.T) {
			repo := newWebhookRepo()
			svc := NewWebhookService(repo, testHMACKey, nil)

			body := []byte(`[{"merchantReference": "2001", "status": "` + status + `", "pspReference": "LEGACY2"}]`)
			if err := svc.HandleNotification(context.Background(), signLegacyBody(t, body), body); err != nil {
				t.Fatalf("HandleNotification returned error: %v", err)
			}
			if repo.payments["2001"].Paid == nil {
				t.Fatalf("status %q should mark paid", status)
			}
		})
	}
}

func TestHandleNotification_LegacyNonSuccessStatusOnlyAudits(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := []byte(`{"payment_id": "2001", "eventCode": "PAYOUT_DECLINE", "reason": "account closed"}`)
	if err := svc.HandleNotification(context.Background(), signLegacyBody(t, body), body); err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if repo.payments["2001"].Paid != nil {
		t.Fatal("declined payout must not mark paid")
	}
	statuses := repo.auditStatuses("2001")
	if len(statuses) != 1 || statuses[0] != "PAYOUT_DECLINE" {
		t.Fatalf("unexpected audit trail: %v", statuses)
	}
}

func TestHandleNotification_LegacyMissingHeaderRejected(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := []byte(`{"payment_id": "2001", "status": "SUCCESS"}`)
	if err := svc.HandleNotification(context.Background(), "", body); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if len(repo.audits) != 0 {
		t.Fatal("expected zero writes")
	}
}

func TestHandleNotification_LegacyWrongSignatureRejected(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := []byte(`{"payment_id": "2001", "status": "SUCCESS"}`)
	if err := svc.HandleNotification(context.Background(), "bm90LXRoZS1zaWduYXR1cmU=", body); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestHandleNotification_MissingKeyIsHardFailure(t *testing.T) {
	repo := newWebhookRepo()
	svc := NewWebhookService(repo, "", nil)

	body := []byte(`{"payment_id": "2001", "status": "SUCCESS"}`)
	if err := svc.HandleNotification(context.Background(), signLegacyBody(t, body), body); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
}

func TestSignItem_EscapesSeparators(t *testing.T) {
	key := []byte("k")
	a := domain.NotificationRequestItem{
		MerchantReference: "ref:1",
		Amount:            domain.NotificationAmount{Currency: "EUR", Value: 100},
		EventCode:         domain.EventCodePayoutConfirmed,
		Success:           "true",
	}
	b := a
	b.MerchantReference = `ref\:1`

	if signItem(key, a) == signItem(key, b) {
		t.Fatal("escaping must keep distinct fields distinct")
	}
}

func TestFlexibleID_DecodesStringAndNumber(t *testing.T) {
	var n domain.LegacyNotification
	if err := json.Unmarshal([]byte(`{"payment_id": 42}`), &n); err != nil {
		t.Fatalf("unmarshal numeric id: %v", err)
	}
	if n.Reference() != "42" {
		t.Fatalf("expected 42, got %q", n.Reference())
	}
	if err := json.Unmarshal([]byte(`{"payment_id": "abc"}`), &n); err != nil {
		t.Fatalf("unmarshal string id: %v", err)
	}
	if n.Reference() != "abc" {
		t.Fatalf("expected abc, got %q", n.Reference())
	}
}

func TestHandleNotification_MarkPaidFailureStillAcknowledged(t *testing.T) {
	repo := newWebhookRepo()
	repo.markPaidErr = errors.New("connection reset")
	svc := NewWebhookService(repo, testHMACKey, nil)

	body := marshalBatch(t, structuredItem(t, "2001", domain.EventCodePayoutConfirmed, "true", "PSPREF10", true))
	if err := svc.HandleNotification(context.Background(), "", body); err != nil {
		t.Fatalf("per-item persistence failures must not fail the request, got %v", err)
	}
}
