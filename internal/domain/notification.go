/**
 * @description
 * This file defines the inbound webhook notification shapes accepted from the
 * payout network. Two formats are supported: the structured multi-item
 * notification, where each item is independently HMAC-signed, and the legacy
 * flat notification, where the whole request body is signed as one blob.
 */

package domain

import (
	"bytes"
	"encoding/json"
)

// Event code reported by the payout network when a payout settles.
const EventCodePayoutConfirmed = "PAYOUT_CONFIRMED"

// NotificationBatch is the structured multi-item webhook payload.
type NotificationBatch struct {
	Live              string             `json:"live"`
	NotificationItems []NotificationItem `json:"notificationItems"`
}

// NotificationItem wraps one NotificationRequestItem, mirroring the wire format.
type NotificationItem struct {
	NotificationRequestItem NotificationRequestItem `json:"NotificationRequestItem"`
}

// NotificationRequestItem is one independently signed notification event.
type NotificationRequestItem struct {
	AdditionalData      map[string]string  `json:"additionalData"`
	Amount              NotificationAmount `json:"amount"`
	EventCode           string             `json:"eventCode"`
	EventDate           string             `json:"eventDate"`
	MerchantAccountCode string             `json:"merchantAccountCode"`
	MerchantReference   string             `json:"merchantReference"`
	OriginalReference   string             `json:"originalReference"`
	PSPReference        string             `json:"pspReference"`
	Reason              string             `json:"reason"`
	Success             string             `json:"success"`
}

// HMACSignature returns the embedded per-item signature, if any.
func (i NotificationRequestItem) HMACSignature() string {
	return i.AdditionalData["hmacSignature"]
}

// NotificationAmount carries the value in minor units.
type NotificationAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// FlexibleID decodes a JSON identifier that upstream sends as either a string
// or a bare number.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// LegacyNotification is the legacy flat webhook shape. The endpoint accepts
// either a single object or an array of these.
type LegacyNotification struct {
	PaymentID         FlexibleID `json:"payment_id"`
	MerchantReference string     `json:"merchantReference"`
	Status            string     `json:"status"`
	EventCode         string     `json:"eventCode"`
	Message           string     `json:"message"`
	Reason            string     `json:"reason"`
	PSPReference      string     `json:"pspReference"`
}

// Reference resolves the payment identifier for a legacy notification:
// payment_id wins, then merchantReference.
func (n LegacyNotification) Reference() string {
	if n.PaymentID != "" {
		return string(n.PaymentID)
	}
	return n.MerchantReference
}
