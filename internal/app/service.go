/**
 * @description
 * This file contains the core business logic for the payout-service. The `Service`
 * struct orchestrates the payout state machine: it loads the payment, enforces the
 * submission preconditions, gates on the available budget, claims the idempotent
 * `initiated` audit slot, calls the payout network client, and records the terminal
 * outcome.
 *
 * Key features:
 * - Precondition ladder with a distinct, client-fixable error per rejection.
 * - Exactly one open `initiated` audit row per payment; repeat submits return
 *   `already_initiated` without a second network call.
 * - Success path writes the payment's paid fields before the `submitted` audit
 *   row, inside one transaction, so a crash between writes stays recoverable.
 * - Failure path records a `failed` audit row and leaves the payment eligible
 *   for operator resubmission.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/shopspring/decimal: Fixed-point amount handling.
 * - internal/bankident, internal/domain, internal/store: Validation, models, data access.
 * - pkg/adyenclient, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paydesk/payout-service/internal/bankident"
	"github.com/paydesk/payout-service/internal/domain"
	"github.com/paydesk/payout-service/internal/store"
	"github.com/paydesk/payout-service/pkg/adyenclient"
	"github.com/paydesk/payout-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

// Precondition errors surfaced by Submit. The API layer maps these to
// distinct HTTP statuses.
var (
	ErrAlreadyPaid             = errors.New("payment already marked as paid")
	ErrPaymentUnlinked         = errors.New("payment not linked to a user")
	ErrNoBankAccount           = errors.New("user has no bank account")
	ErrBankAccountNotValidated = errors.New("bank account is not validated")
	ErrInvalidAmount           = errors.New("payment amount is not a positive number")
	ErrInsufficientBudget      = errors.New("insufficient payout budget")
)

// PaidMethodPayout is recorded on payments settled through the submission path.
const PaidMethodPayout = "adyen_payout"

// PayoutNetwork is the subset of the network client used by the state machine.
type PayoutNetwork interface {
	SubmitBankPayout(ctx context.Context, req adyenclient.PayoutRequest) *adyenclient.PayoutResult
}

// Service provides the core business logic for payout submission.
type Service struct {
	repo          store.Repository
	network       PayoutNetwork
	balance       *BalanceGate
	eventProducer rabbitmq.Publisher
}

// NewService creates a new payout service instance.
func NewService(repo store.Repository, network PayoutNetwork, balance *BalanceGate, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		network:       network,
		balance:       balance,
		eventProducer: producer,
	}
}

// Submit runs the payout state machine for one payment.
func (s *Service) Submit(ctx context.Context, paymentID string) (*domain.SubmitResult, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Paid != nil {
		return nil, ErrAlreadyPaid
	}
	if payment.UserID == nil {
		return nil, ErrPaymentUnlinked
	}

	user, err := s.repo.FindUserByID(ctx, *payment.UserID)
	if err != nil {
		return nil, err
	}

	bank, err := s.repo.FindBankAccountByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrBankAccountNotFound) {
			return nil, ErrNoBankAccount
		}
		return nil, err
	}
	if bank.Status != domain.BankAccountValid {
		return nil, ErrBankAccountNotValidated
	}

	amount, ok := payment.AmountDecimal()
	if !ok || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	budget, err := s.balance.AvailableBudget(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine available budget: %w", err)
	}
	if !budget.Covers(amount) {
		return nil, fmt.Errorf("%w: need %s, available %s",
			ErrInsufficientBudget, amount.StringFixed(2), budget.Amount.StringFixed(2))
	}

	destination, err := bankident.Build(bank.Country, deref(bank.IBAN), deref(bank.AccountNumber), deref(bank.RoutingCode))
	if err != nil {
		return nil, err
	}

	// Idempotency guard: at most one open initiation per payment. A repeat
	// submit returns the existing row and makes no network call.
	initiated, inserted, err := s.repo.InsertInitiatedAudit(ctx, payment.PaymentID, "payout submission started")
	if err != nil {
		return nil, fmt.Errorf("failed to record initiated audit: %w", err)
	}
	if !inserted {
		log.Printf("level=info component=payout_service op=submit payment_id=%s msg=\"submission already initiated\" audit_id=%s", payment.PaymentID, initiated.ID)
		return &domain.SubmitResult{Status: domain.SubmitStatusAlreadyInitiated, AuditID: initiated.ID}, nil
	}

	result := s.network.SubmitBankPayout(ctx, adyenclient.PayoutRequest{
		PaymentID:   payment.PaymentID,
		Amount:      amount,
		Currency:    bank.Currency,
		OwnerName:   bank.AccountHolderName,
		Destination: destination,
	})

	if !result.Submitted {
		return s.recordFailure(ctx, payment.PaymentID, initiated.ID, result)
	}
	return s.recordSuccess(ctx, payment.PaymentID, initiated.ID, destination, result)
}

func (s *Service) recordSuccess(ctx context.Context, paymentID string, initiatedID uuid.UUID, destination bankident.Identifier, result *adyenclient.PayoutResult) (*domain.SubmitResult, error) {
	sentTo, err := json.Marshal(destination.Masked())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize destination snapshot: %w", err)
	}

	message := fmt.Sprintf("payout accepted by network (result %s)", result.ResultCode)
	audit := &domain.PayoutAudit{
		PaymentID:    paymentID,
		Status:       domain.AuditStatusSubmitted,
		Message:      &message,
		PSPReference: &result.PSPReference,
	}
	if err := s.repo.RecordSubmissionSuccess(ctx, paymentID, PaidMethodPayout, result.PSPReference, string(sentTo), audit); err != nil {
		return nil, fmt.Errorf("failed to record submission success: %w", err)
	}

	log.Printf("level=info component=payout_service op=submit payment_id=%s status=submitted psp_reference=%s", paymentID, result.PSPReference)
	if s.eventProducer != nil {
		_ = s.eventProducer.PublishPayoutEvent(ctx, "payout.submitted", rabbitmq.PayoutEvent{
			PaymentID:    paymentID,
			Status:       domain.AuditStatusSubmitted,
			PSPReference: result.PSPReference,
			Timestamp:    time.Now().UTC(),
		})
	}

	return &domain.SubmitResult{
		Status:            domain.SubmitStatusSubmitted,
		AuditID:           initiatedID,
		SubmissionAuditID: &audit.ID,
		PSPReference:      &result.PSPReference,
	}, nil
}

func (s *Service) recordFailure(ctx context.Context, paymentID string, initiatedID uuid.UUID, result *adyenclient.PayoutResult) (*domain.SubmitResult, error) {
	message := fmt.Sprintf("payout not confirmed (http %d): %s", result.HTTPStatus, result.Message)
	audit := &domain.PayoutAudit{
		PaymentID: paymentID,
		Status:    domain.AuditStatusFailed,
		Message:   &message,
	}
	if result.PSPReference != "" {
		audit.PSPReference = &result.PSPReference
	}
	if err := s.repo.RecordSubmissionFailure(ctx, audit); err != nil {
		return nil, fmt.Errorf("failed to record submission failure: %w", err)
	}

	log.Printf("level=warn component=payout_service op=submit payment_id=%s status=failed http_status=%d msg=%q", paymentID, result.HTTPStatus, result.Message)
	if s.eventProducer != nil {
		_ = s.eventProducer.PublishPayoutEvent(ctx, "payout.failed", rabbitmq.PayoutEvent{
			PaymentID: paymentID,
			Status:    domain.AuditStatusFailed,
			Message:   result.Message,
			Timestamp: time.Now().UTC(),
		})
	}

	return &domain.SubmitResult{
		Status:            domain.SubmitStatusFailed,
		AuditID:           initiatedID,
		SubmissionAuditID: &audit.ID,
		Message:           result.Message,
	}, nil
}

// GetPayoutDetails returns the payment with its full ordered audit history.
func (s *Service) GetPayoutDetails(ctx context.Context, paymentID string) (*domain.PayoutDetails, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	audits, err := s.repo.ListAuditsByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &domain.PayoutDetails{Payment: *payment, Audits: audits}, nil
}

// ValidateBankAccount runs identifier validation for the supplied details and
// persists the resulting status on the user's bank account.
func (s *Service) ValidateBankAccount(ctx context.Context, details domain.BankAccountDetails) (*domain.BankAccountValidation, error) {
	if _, err := s.repo.FindUserByID(ctx, details.UserID); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindBankAccountByUserID(ctx, details.UserID); err != nil {
		return nil, err
	}

	status, reasons := validateDetails(details)
	if err := s.repo.SetBankAccountStatus(ctx, details.UserID, status); err != nil {
		return nil, err
	}
	return &domain.BankAccountValidation{Status: status, Reasons: reasons}, nil
}

// UpsertBankAccount validates and stores the single bank account row for a
// user, overwriting any prior details.
func (s *Service) UpsertBankAccount(ctx context.Context, details domain.BankAccountDetails) (*domain.BankAccount, error) {
	if _, err := s.repo.FindUserByID(ctx, details.UserID); err != nil {
		return nil, err
	}
	if details.IBAN == "" && (details.AccountNumber == "" || details.RoutingCode == "") {
		return nil, fmt.Errorf("%w: provide either iban or account_number + routing_code", bankident.ErrInvalidRouting)
	}

	status, _ := validateDetails(details)
	account := &domain.BankAccount{
		UserID:            details.UserID,
		Country:           upper(details.Country),
		Currency:          upper(details.Currency),
		AccountHolderName: details.AccountHolderName,
		IBAN:              nilIfEmpty(details.IBAN),
		AccountNumber:     nilIfEmpty(details.AccountNumber),
		RoutingCode:       nilIfEmpty(details.RoutingCode),
		Status:            status,
	}
	return s.repo.UpsertBankAccount(ctx, account)
}

// CreatePayment registers a new payout obligation created by an upstream
// caller. The payment identifier is a millisecond timestamp, keeping the
// numeric-string key shape the rest of the pipeline expects.
func (s *Service) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	user, err := s.repo.FindUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	notes := req.Description
	if notes == "" {
		notes = fmt.Sprintf("Payment for %s", user.Email)
	}
	payment := &domain.Payment{
		PaymentID: fmt.Sprintf("%d", time.Now().UnixMilli()),
		UserID:    &user.ID,
		Amount:    amount.StringFixed(2),
		PaidNotes: &notes,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

// ListPendingPayments returns all unpaid payments.
func (s *Service) ListPendingPayments(ctx context.Context) ([]domain.Payment, error) {
	return s.repo.ListPendingPayments(ctx)
}

// validateDetails checks the destination identifier and returns the bank
// account status plus human-readable reasons for a rejection.
func validateDetails(details domain.BankAccountDetails) (string, []string) {
	_, err := bankident.Build(details.Country, details.IBAN, details.AccountNumber, details.RoutingCode)
	if err == nil {
		return domain.BankAccountValid, nil
	}
	return domain.BankAccountInvalid, []string{err.Error()}
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
