/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payout-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/paydesk/payout-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User and bank account methods
	FindUserByID(ctx context.Context, userID int64) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, email, passwordHash, role string) (*domain.User, error)
	FindBankAccountByUserID(ctx context.Context, userID int64) (*domain.BankAccount, error)
	UpsertBankAccount(ctx context.Context, account *domain.BankAccount) (*domain.BankAccount, error)
	SetBankAccountStatus(ctx context.Context, userID int64, status string) error

	// Payment methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByID(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListPendingPayments(ctx context.Context) ([]domain.Payment, error)

	// MarkPaymentPaid sets the paid fields on a payment only if it is still
	// unpaid (first-writer-wins). It reports whether this call performed the
	// update; false means the payment was already paid or does not exist.
	MarkPaymentPaid(ctx context.Context, paymentID, method, trackingID, sentTo string, paidAt time.Time) (bool, error)

	// Payout audit methods. Audit rows are append-only: no update or delete.
	//
	// InsertInitiatedAudit atomically claims the submission slot for a payment.
	// At most one open `initiated` row (one with no terminal follow-up) may
	// exist per payment; when one already exists it is returned with
	// inserted=false and no write occurs.
	InsertInitiatedAudit(ctx context.Context, paymentID, message string) (audit *domain.PayoutAudit, inserted bool, err error)

	// AppendAudit inserts an informational audit row (webhook events).
	AppendAudit(ctx context.Context, audit *domain.PayoutAudit) error

	// RecordSubmissionSuccess performs the success path of the state machine in
	// one transaction: update the payment's paid fields first, then append the
	// `submitted` audit row, releasing the initiated guard.
	RecordSubmissionSuccess(ctx context.Context, paymentID, method, trackingID, sentTo string, audit *domain.PayoutAudit) error

	// RecordSubmissionFailure appends the `failed` audit row, releasing the
	// initiated guard; the payment itself is left untouched.
	RecordSubmissionFailure(ctx context.Context, audit *domain.PayoutAudit) error

	ListAuditsByPaymentID(ctx context.Context, paymentID string) ([]domain.PayoutAudit, error)

	// ListStaleInitiations returns open `initiated` audit rows older than the
	// cutoff, for the reconciler.
	ListStaleInitiations(ctx context.Context, cutoff time.Time) ([]domain.PayoutAudit, error)
}
