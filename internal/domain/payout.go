/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Payment amounts are stored as NUMERIC(12,2) strings and parsed with
 *   shopspring/decimal at the point of use to avoid floating-point drift.
 * - The current payout state of a payment is never a column; it is the most
 *   recent PayoutAudit row. Audit rows are append-only.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payout audit status labels written by the state machine. The webhook
// reconciler additionally writes remote event codes verbatim.
const (
	AuditStatusInitiated = "initiated"
	AuditStatusSubmitted = "submitted"
	AuditStatusFailed    = "failed"
)

// Submit result tags returned to the caller of Service.Submit.
const (
	SubmitStatusSubmitted        = "submitted"
	SubmitStatusFailed           = "failed"
	SubmitStatusAlreadyInitiated = "already_initiated"
)

// User roles. Payout operations require admin or accountant.
const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleCustomer   = "customer"
)

// Bank account validation states. A payout may only be submitted against a
// bank account whose status is BankAccountValid.
const (
	BankAccountUnvalidated = "unvalidated"
	BankAccountValid       = "valid"
	BankAccountInvalid     = "invalid"
)

// Payment represents a single payout obligation. The primary key is an
// externally supplied numeric string, never generated by this service.
// This struct maps directly to the `payments` table.
type Payment struct {
	PaymentID      string     `json:"payment_id"`
	UserID         *int64     `json:"user_id"`
	Amount         string     `json:"amount"` // NUMERIC(12,2), may be empty
	Paid           *time.Time `json:"paid"`
	PaidMethod     *string    `json:"paid_method"`
	PaidTrackingID *string    `json:"paid_tracking_id"`
	PaidSentTo     *string    `json:"paid_sent_to"`
	PaidNotes      *string    `json:"paid_notes"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AmountDecimal parses the stored amount string. The bool reports whether the
// amount parsed cleanly; an empty or malformed amount returns false.
func (p *Payment) AmountDecimal() (decimal.Decimal, bool) {
	if p.Amount == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// User is an operator or customer of the system. One user has at most one
// active bank account and zero or more payments.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BankAccount is the payout destination for a user. Exactly one row per user,
// maintained by upsert. Either IBAN or account number + routing code is
// populated, never both meaningfully.
type BankAccount struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Country           string    `json:"country"`  // ISO-3166 alpha-2
	Currency          string    `json:"currency"` // ISO-4217 alpha-3
	AccountHolderName string    `json:"account_holder_name"`
	IBAN              *string   `json:"iban,omitempty"`
	AccountNumber     *string   `json:"account_number,omitempty"`
	RoutingCode       *string   `json:"routing_code,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PayoutAudit is an immutable log entry for one payout lifecycle event.
// Rows are inserted by the state machine and the webhook reconciler only,
// and are never updated or deleted.
type PayoutAudit struct {
	ID           uuid.UUID `json:"id"`
	PaymentID    string    `json:"payment_id"`
	Status       string    `json:"status"`
	Message      *string   `json:"message,omitempty"`
	PSPReference *string   `json:"psp_reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubmitResult is returned by Service.Submit.
type SubmitResult struct {
	Status            string     `json:"status"`
	AuditID           uuid.UUID  `json:"audit_id"`
	SubmissionAuditID *uuid.UUID `json:"submission_audit_id,omitempty"`
	PSPReference      *string    `json:"psp_reference,omitempty"`
	Message           string     `json:"message,omitempty"`
}

// PayoutDetails is the read-only projection returned by Service.GetPayoutDetails.
type PayoutDetails struct {
	Payment Payment       `json:"payment"`
	Audits  []PayoutAudit `json:"audits"`
}

// BankAccountDetails is the DTO for bank account validation and upsert requests.
type BankAccountDetails struct {
	UserID            int64  `json:"user_id"`
	Country           string `json:"country"`
	Currency          string `json:"currency"`
	AccountHolderName string `json:"account_holder_name"`
	IBAN              string `json:"iban,omitempty"`
	AccountNumber     string `json:"account_number,omitempty"`
	RoutingCode       string `json:"routing_code,omitempty"`
}

// BankAccountValidation reports the outcome of a validation request.
type BankAccountValidation struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

// CreatePaymentRequest is the DTO for registering a new payout obligation.
type CreatePaymentRequest struct {
	UserID      int64  `json:"user_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}
