/**
 * @description
 * This file contains the HTTP handler for the inbound payout-network webhook.
 * The handler reads the raw body (the legacy signing scheme covers the exact
 * bytes received), hands both body and signature header to the reconciler,
 * and acknowledges with 200 unless authentication failed.
 */

package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/paydesk/payout-service/internal/app"
)

// adyenSignatureHeader carries the legacy whole-body HMAC signature.
const adyenSignatureHeader = "X-Adyen-Signature"

// maxWebhookBodyBytes bounds webhook request bodies.
const maxWebhookBodyBytes = 1 << 20

// NotificationReconciler is the reconciler surface used by the handler.
type NotificationReconciler interface {
	HandleNotification(ctx context.Context, signatureHeader string, body []byte) error
}

// WebhookHandlers holds the reconciler used by the webhook endpoint.
type WebhookHandlers struct {
	webhooks NotificationReconciler
}

// NewWebhookHandlers creates a new instance of WebhookHandlers.
func NewWebhookHandlers(webhooks NotificationReconciler) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// AdyenWebhookHandler ingests one notification request. The sender only needs
// an acknowledgment: per-item outcomes never change the response, but a
// signature failure rejects the whole request before anything is written.
func (h *WebhookHandlers) AdyenWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "Unable to read request body", http.StatusBadRequest)
		return
	}

	err = h.webhooks.HandleNotification(r.Context(), r.Header.Get(adyenSignatureHeader), body)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received":true}`))
	case errors.Is(err, app.ErrSignatureInvalid):
		http.Error(w, "Invalid HMAC signature", http.StatusUnauthorized)
	case errors.Is(err, app.ErrHMACKeyMissing):
		http.Error(w, "Missing HMAC key configuration", http.StatusBadRequest)
	case errors.Is(err, app.ErrMalformedNotification):
		http.Error(w, "Malformed notification body", http.StatusBadRequest)
	default:
		log.Printf("level=error component=api msg=\"webhook processing failed\" err=%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
