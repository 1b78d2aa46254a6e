/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payments, users, bank accounts, and payout audit rows.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paydesk/payout-service/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrBankAccountNotFound = errors.New("bank account not found")
	ErrEmailTaken          = errors.New("email already in use")
)

// openInitiationCond selects `initiated` audit rows with no terminal
// follow-up. The idempotency guard and the reconciler share this predicate.
const openInitiationCond = `
	a.status = 'initiated'
	AND NOT EXISTS (
		SELECT 1 FROM payout_audits b
		WHERE b.payment_id = a.payment_id
		  AND b.status IN ('submitted', 'failed')
		  AND (b.created_at, b.id) > (a.created_at, a.id)
	)`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, password_hash, role, created_at, updated_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail retrieves a user by their unique email address.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, password_hash, role, created_at, updated_at FROM users WHERE lower(email) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user row. The unique email constraint is surfaced
// as ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, passwordHash, role string) (*domain.User, error) {
	var user domain.User
	query := `
		INSERT INTO users (email, password_hash, role)
		VALUES (btrim($1), $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, password_hash, role, created_at, updated_at`
	err := r.db.QueryRow(ctx, query, email, passwordHash, role).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

// FindBankAccountByUserID retrieves the single bank account for a user.
func (r *PostgresRepository) FindBankAccountByUserID(ctx context.Context, userID int64) (*domain.BankAccount, error) {
	var account domain.BankAccount
	query := `
		SELECT id, user_id, country, currency, account_holder_name, iban, account_number, routing_code, status, created_at, updated_at
		FROM user_bank_accounts WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.ID, &account.UserID, &account.Country, &account.Currency, &account.AccountHolderName,
		&account.IBAN, &account.AccountNumber, &account.RoutingCode, &account.Status,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBankAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpsertBankAccount creates or overwrites the single bank account row for a
// user. Prior details are replaced, not versioned.
func (r *PostgresRepository) UpsertBankAccount(ctx context.Context, account *domain.BankAccount) (*domain.BankAccount, error) {
	var saved domain.BankAccount
	query := `
		INSERT INTO user_bank_accounts (user_id, country, currency, account_holder_name, iban, account_number, routing_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			country = EXCLUDED.country,
			currency = EXCLUDED.currency,
			account_holder_name = EXCLUDED.account_holder_name,
			iban = EXCLUDED.iban,
			account_number = EXCLUDED.account_number,
			routing_code = EXCLUDED.routing_code,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING id, user_id, country, currency, account_holder_name, iban, account_number, routing_code, status, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		account.UserID, account.Country, account.Currency, account.AccountHolderName,
		account.IBAN, account.AccountNumber, account.RoutingCode, account.Status,
	).Scan(
		&saved.ID, &saved.UserID, &saved.Country, &saved.Currency, &saved.AccountHolderName,
		&saved.IBAN, &saved.AccountNumber, &saved.RoutingCode, &saved.Status,
		&saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// SetBankAccountStatus updates the validation status of a user's bank account.
func (r *PostgresRepository) SetBankAccountStatus(ctx context.Context, userID int64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE user_bank_accounts SET status = $2, updated_at = now() WHERE user_id = $1`, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}

// CreatePayment inserts a new payment row. The payment_id is supplied by the
// caller, never generated here.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (payment_id, user_id, amount, paid_notes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, query, payment.PaymentID, payment.UserID, payment.Amount, payment.PaidNotes).
		Scan(&payment.CreatedAt, &payment.UpdatedAt)
}

const paymentColumns = `payment_id, user_id, amount::text, paid, paid_method, paid_tracking_id, paid_sent_to, paid_notes, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amount *string
	err := row.Scan(&p.PaymentID, &p.UserID, &amount, &p.Paid, &p.PaidMethod, &p.PaidTrackingID, &p.PaidSentTo, &p.PaidNotes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if amount != nil {
		p.Amount = *amount
	}
	return &p, nil
}

// FindPaymentByID retrieves a payment by its externally supplied identifier.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE payment_id = $1`, paymentColumns)
	p, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListPendingPayments returns all unpaid payments, most recent first.
func (r *PostgresRepository) ListPendingPayments(ctx context.Context) ([]domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE paid IS NULL ORDER BY created_at DESC`, paymentColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// MarkPaymentPaid sets the paid fields only when the payment is still unpaid.
// Once paid is non-null it is never reset, and the tracking fields are set
// atomically with it.
func (r *PostgresRepository) MarkPaymentPaid(ctx context.Context, paymentID, method, trackingID, sentTo string, paidAt time.Time) (bool, error) {
	return markPaymentPaid(ctx, r.db, paymentID, method, trackingID, sentTo, paidAt)
}

// pgxExecutor covers both pgxpool.Pool and pgx.Tx for shared statements.
type pgxExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func markPaymentPaid(ctx context.Context, db pgxExecutor, paymentID, method, trackingID, sentTo string, paidAt time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payments
		SET paid = $2, paid_method = $3, paid_tracking_id = nullif($4, ''), paid_sent_to = nullif($5, ''), updated_at = now()
		WHERE payment_id = $1 AND paid IS NULL`,
		paymentID, paidAt, method, trackingID, sentTo)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func insertAudit(ctx context.Context, db pgxExecutor, audit *domain.PayoutAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	return db.QueryRow(ctx, `
		INSERT INTO payout_audits (id, payment_id, status, message, psp_reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		audit.ID, audit.PaymentID, audit.Status, audit.Message, audit.PSPReference,
	).Scan(&audit.CreatedAt)
}

// InsertInitiatedAudit atomically claims the submission slot for a payment.
// A transaction-scoped advisory lock on the payment id closes the race between
// two concurrent submits: the check for an open initiation and the insert are
// serialized per payment.
func (r *PostgresRepository) InsertInitiatedAudit(ctx context.Context, paymentID, message string) (*domain.PayoutAudit, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('payout_submit:' || $1::text))`, paymentID); err != nil {
		return nil, false, err
	}

	var existing domain.PayoutAudit
	err = tx.QueryRow(ctx, `
		SELECT a.id, a.payment_id, a.status, a.message, a.psp_reference, a.created_at
		FROM payout_audits a
		WHERE a.payment_id = $1 AND `+openInitiationCond+`
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT 1`, paymentID).
		Scan(&existing.ID, &existing.PaymentID, &existing.Status, &existing.Message, &existing.PSPReference, &existing.CreatedAt)
	switch {
	case err == nil:
		return &existing, false, tx.Commit(ctx)
	case err != pgx.ErrNoRows:
		return nil, false, err
	}

	audit := &domain.PayoutAudit{
		PaymentID: paymentID,
		Status:    domain.AuditStatusInitiated,
		Message:   &message,
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return audit, true, nil
}

// AppendAudit inserts an informational audit row outside the submission path.
func (r *PostgresRepository) AppendAudit(ctx context.Context, audit *domain.PayoutAudit) error {
	return insertAudit(ctx, r.db, audit)
}

// RecordSubmissionSuccess updates the payment's paid fields and appends the
// `submitted` audit row inside one transaction, payment write first. The write
// order is the recovery contract: a reader observing a paid payment without
// the follow-up audit row knows the submission succeeded.
func (r *PostgresRepository) RecordSubmissionSuccess(ctx context.Context, paymentID, method, trackingID, sentTo string, audit *domain.PayoutAudit) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := markPaymentPaid(ctx, tx, paymentID, method, trackingID, sentTo, time.Now().UTC()); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordSubmissionFailure appends the `failed` audit row. The payment row is
// untouched so an operator can resubmit.
func (r *PostgresRepository) RecordSubmissionFailure(ctx context.Context, audit *domain.PayoutAudit) error {
	return insertAudit(ctx, r.db, audit)
}

// ListAuditsByPaymentID returns the full ordered history for a payment.
func (r *PostgresRepository) ListAuditsByPaymentID(ctx context.Context, paymentID string) ([]domain.PayoutAudit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, payment_id, status, message, psp_reference, created_at
		FROM payout_audits
		WHERE payment_id = $1
		ORDER BY created_at ASC, id ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []domain.PayoutAudit
	for rows.Next() {
		var a domain.PayoutAudit
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.Status, &a.Message, &a.PSPReference, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// ListStaleInitiations returns open `initiated` audit rows older than the
// cutoff. These are submissions that never received a terminal follow-up,
// typically because the process died between the network call and the
// terminal write.
func (r *PostgresRepository) ListStaleInitiations(ctx context.Context, cutoff time.Time) ([]domain.PayoutAudit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.payment_id, a.status, a.message, a.psp_reference, a.created_at
		FROM payout_audits a
		WHERE a.created_at < $1 AND `+openInitiationCond+`
		ORDER BY a.created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []domain.PayoutAudit
	for rows.Next() {
		var a domain.PayoutAudit
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.Status, &a.Message, &a.PSPReference, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
