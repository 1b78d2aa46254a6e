package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/paydesk/payout-service/internal/domain"
	"github.com/paydesk/payout-service/internal/store"
)

// repoStub is an in-memory store.Repository for service and webhook tests.
type repoStub struct {
	users        map[int64]*domain.User
	usersByEmail map[string]*domain.User
	bankAccounts map[int64]*domain.BankAccount
	payments     map[string]*domain.Payment
	audits       []domain.PayoutAudit

	// openInitiation simulates an existing open `initiated` row.
	openInitiation *domain.PayoutAudit

	initiatedErr error
	markPaidErr  error
	appendErr    error

	markPaidCalls []string
}

func newRepoStub() *repoStub {
	return &repoStub{
		users:        map[int64]*domain.User{},
		usersByEmail: map[string]*domain.User{},
		bankAccounts: map[int64]*domain.BankAccount{},
		payments:     map[string]*domain.Payment{},
	}
}

func (r *repoStub) addUser(u *domain.User) {
	r.users[u.ID] = u
	r.usersByEmail[u.Email] = u
}

func (r *repoStub) FindUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	u, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (r *repoStub) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, ok := r.usersByEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (r *repoStub) CreateUser(ctx context.Context, email, passwordHash, role string) (*domain.User, error) {
	if _, ok := r.usersByEmail[email]; ok {
		return nil, store.ErrEmailTaken
	}
	u := &domain.User{ID: int64(len(r.users) + 1), Email: email, PasswordHash: passwordHash, Role: role}
	r.addUser(u)
	return u, nil
}

func (r *repoStub) FindBankAccountByUserID(ctx context.Context, userID int64) (*domain.BankAccount, error) {
	acct, ok := r.bankAccounts[userID]
	if !ok {
		return nil, store.ErrBankAccountNotFound
	}
	return acct, nil
}

func (r *repoStub) UpsertBankAccount(ctx context.Context, account *domain.BankAccount) (*domain.BankAccount, error) {
	r.bankAccounts[account.UserID] = account
	return account, nil
}

func (r *repoStub) SetBankAccountStatus(ctx context.Context, userID int64, status string) error {
	acct, ok := r.bankAccounts[userID]
	if !ok {
		return store.ErrBankAccountNotFound
	}
	acct.Status = status
	return nil
}

func (r *repoStub) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	r.payments[payment.PaymentID] = payment
	return nil
}

func (r *repoStub) FindPaymentByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return p, nil
}

func (r *repoStub) ListPendingPayments(ctx context.Context) ([]domain.Payment, error) {
	var pending []domain.Payment
	for _, p := range r.payments {
		if p.Paid == nil {
			pending = append(pending, *p)
		}
	}
	return pending, nil
}

func (r *repoStub) MarkPaymentPaid(ctx context.Context, paymentID, method, trackingID, sentTo string, paidAt time.Time) (bool, error) {
	if r.markPaidErr != nil {
		return false, r.markPaidErr
	}
	r.markPaidCalls = append(r.markPaidCalls, paymentID)
	p, ok := r.payments[paymentID]
	if !ok || p.Paid != nil {
		return false, nil
	}
	p.Paid = &paidAt
	p.PaidMethod = &method
	if trackingID != "" {
		p.PaidTrackingID = &trackingID
	}
	if sentTo != "" {
		p.PaidSentTo = &sentTo
	}
	return true, nil
}

func (r *repoStub) InsertInitiatedAudit(ctx context.Context, paymentID, message string) (*domain.PayoutAudit, bool, error) {
	if r.initiatedErr != nil {
		return nil, false, r.initiatedErr
	}
	if r.openInitiation != nil && r.openInitiation.PaymentID == paymentID {
		return r.openInitiation, false, nil
	}
	audit := domain.PayoutAudit{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Status:    domain.AuditStatusInitiated,
		Message:   &message,
		CreatedAt: time.Now(),
	}
	r.audits = append(r.audits, audit)
	r.openInitiation = &audit
	return &audit, true, nil
}

func (r *repoStub) AppendAudit(ctx context.Context, audit *domain.PayoutAudit) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	audit.CreatedAt = time.Now()
	r.audits = append(r.audits, *audit)
	return nil
}

func (r *repoStub) RecordSubmissionSuccess(ctx context.Context, paymentID, method, trackingID, sentTo string, audit *domain.PayoutAudit) error {
	if _, err := r.MarkPaymentPaid(ctx, paymentID, method, trackingID, sentTo, time.Now()); err != nil {
		return err
	}
	if err := r.AppendAudit(ctx, audit); err != nil {
		return err
	}
	r.openInitiation = nil
	return nil
}

func (r *repoStub) RecordSubmissionFailure(ctx context.Context, audit *domain.PayoutAudit) error {
	if err := r.AppendAudit(ctx, audit); err != nil {
		return err
	}
	r.openInitiation = nil
	return nil
}

func (r *repoStub) ListAuditsByPaymentID(ctx context.Context, paymentID string) ([]domain.PayoutAudit, error) {
	var out []domain.PayoutAudit
	for _, a := range r.audits {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *repoStub) ListStaleInitiations(ctx context.Context, cutoff time.Time) ([]domain.PayoutAudit, error) {
	if r.openInitiation != nil && r.openInitiation.CreatedAt.Before(cutoff) {
		return []domain.PayoutAudit{*r.openInitiation}, nil
	}
	return nil, nil
}

func (r *repoStub) auditStatuses(paymentID string) []string {
	var statuses []string
	for _, a := range r.audits {
		if a.PaymentID == paymentID {
			statuses = append(statuses, a.Status)
		}
	}
	return statuses
}

var _ store.Repository = (*repoStub)(nil)
