/**
 * @description
 * This file implements the stale-initiation reconciler. A payout submission
 * that crashed between claiming the `initiated` audit row and writing its
 * terminal row leaves the payment stuck: the idempotency guard refuses new
 * submissions while no outcome is recorded. The reconciler runs on a cron
 * schedule, finds initiations older than a threshold with no follow-up, asks
 * the payout network what actually happened, and writes the missing terminal
 * row.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: job scheduling.
 * - internal/store: audit and payment persistence.
 * - pkg/adyenclient: read-only transfer queries.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paydesk/payout-service/internal/domain"
	"github.com/paydesk/payout-service/internal/store"
	"github.com/paydesk/payout-service/pkg/adyenclient"
)

// TransferLister is the subset of the network client used by the reconciler.
type TransferLister interface {
	ListTransfers(ctx context.Context, filter adyenclient.TransferFilter) ([]adyenclient.TransferStatus, error)
}

// Reconciler resolves payout initiations that never received a terminal
// audit row.
type Reconciler struct {
	cron     *cron.Cron
	repo     store.Repository
	network  TransferLister
	schedule string
	// stale is how old an open initiation must be before we query the network.
	stale time.Duration
	// giveUp is how old an open initiation must be before an unanswered
	// network query is treated as a failed submission.
	giveUp time.Duration
}

// NewReconciler creates a reconciler. schedule is a cron expression.
func NewReconciler(repo store.Repository, network TransferLister, schedule string, stale, giveUp time.Duration) *Reconciler {
	cronLogger := cron.PrintfLogger(log.Default())
	return &Reconciler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		repo:     repo,
		network:  network,
		schedule: schedule,
		stale:    stale,
		giveUp:   giveUp,
	}
}

// Start registers the reconcile job and starts the cron scheduler.
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.runOnce); err != nil {
		return err
	}
	r.cron.Start()
	log.Printf("level=info component=reconciler msg=\"scheduled stale-initiation reconciliation\" schedule=%q stale=%s give_up=%s",
		r.schedule, r.stale, r.giveUp)
	return nil
}

// Stop stops the scheduler and returns a context that is done once any
// running job has finished.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reconciler) runOnce() {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-r.stale)

	open, err := r.repo.ListStaleInitiations(ctx, cutoff)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to list stale initiations\" err=%v", err)
		return
	}
	if len(open) == 0 {
		return
	}
	log.Printf("level=info component=reconciler msg=\"reconciling stale initiations\" count=%d", len(open))

	for _, initiation := range open {
		r.reconcile(ctx, initiation)
	}
}

// reconcile resolves one open initiation. Terminal remote statuses produce
// the matching audit row; a reference the network has never seen, once past
// the give-up threshold, is recorded as failed so the payment becomes
// resubmittable.
func (r *Reconciler) reconcile(ctx context.Context, initiation domain.PayoutAudit) {
	transfers, err := r.network.ListTransfers(ctx, adyenclient.TransferFilter{
		Reference: initiation.PaymentID,
		Limit:     10,
	})
	if err != nil {
		log.Printf("level=warn component=reconciler msg=\"transfer lookup failed, will retry next run\" payment_id=%s err=%v",
			initiation.PaymentID, err)
		return
	}

	if len(transfers) == 0 {
		if time.Since(initiation.CreatedAt) < r.giveUp {
			return
		}
		msg := "no matching transfer found after give-up threshold; submission presumed lost"
		r.appendTerminal(ctx, initiation.PaymentID, domain.AuditStatusFailed, msg, "")
		return
	}

	transfer := transfers[0]
	switch transfer.Status {
	case "authorised", "booked", "completed":
		updated, err := r.repo.MarkPaymentPaid(ctx, initiation.PaymentID, PaidMethodPayout, transfer.ID, "", time.Now().UTC())
		if err != nil {
			log.Printf("level=error component=reconciler msg=\"failed to mark payment paid\" payment_id=%s err=%v",
				initiation.PaymentID, err)
			return
		}
		if updated {
			log.Printf("level=info component=reconciler msg=\"recovered confirmed payout\" payment_id=%s transfer_id=%s",
				initiation.PaymentID, transfer.ID)
		}
		r.appendTerminal(ctx, initiation.PaymentID, domain.AuditStatusSubmitted, "recovered by reconciler", transfer.ID)
	case "failed", "refused", "cancelled", "error":
		msg := "transfer " + transfer.Status
		if transfer.Reason != "" {
			msg += ": " + transfer.Reason
		}
		r.appendTerminal(ctx, initiation.PaymentID, domain.AuditStatusFailed, msg, transfer.ID)
	default:
		// Still in flight upstream; leave the initiation open.
		log.Printf("level=info component=reconciler msg=\"transfer still pending\" payment_id=%s status=%s",
			initiation.PaymentID, transfer.Status)
	}
}

func (r *Reconciler) appendTerminal(ctx context.Context, paymentID, status, message, pspReference string) {
	audit := &domain.PayoutAudit{
		PaymentID:    paymentID,
		Status:       status,
		Message:      nilIfEmpty(message),
		PSPReference: nilIfEmpty(pspReference),
	}
	if err := r.repo.AppendAudit(ctx, audit); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to append terminal audit\" payment_id=%s status=%s err=%v",
			paymentID, status, err)
		return
	}
	log.Printf("level=info component=reconciler msg=\"closed stale initiation\" payment_id=%s status=%s", paymentID, status)
}
