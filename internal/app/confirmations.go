/**
 * @description
 * Confirmation tracking. When the poller submits a request's transactions it
 * registers a batch here; each destination gets its own cancellable
 * subscription on the chain gateway's confirmation stream. The batch is
 * archived, and the originating channel notified, exactly once, after every
 * submitted transaction has confirmed. Subscriptions are cancelled the
 * moment a batch resolves or is abandoned, so a late confirmation for an
 * aborted request is discarded rather than mis-filed.
 *
 * The tracker maintains its own index of currently-watched transactions
 * rather than re-reading the ledger: membership is updated incrementally as
 * requests are leased and archived.
 *
 * @dependencies
 * - sync: Guards the in-process batch index.
 * - internal/store, internal/notify, internal/domain.
 */

package app

import (
	"context"
	"log"
	"sync"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/notify"
	"github.com/nimtipbot/settlement-service/internal/store"
)

type confirmationBatch struct {
	req       *domain.TransferRequest
	expected  int
	confirmed map[string]bool
	watched   map[string]Subscription // tx hash -> subscription
	hashes    []string                // submission order
	height    int64                   // highest confirming height seen
}

// ConfirmationTracker reconciles asynchronous chain confirmations with the
// ledger. Confirmation callbacks may arrive ticks after submission and run
// concurrently with the poll loop.
type ConfirmationTracker struct {
	repo     store.Repository
	gateway  ChainGateway
	notifier notify.Notifier

	mu      sync.Mutex
	batches map[string]*confirmationBatch
}

// NewConfirmationTracker creates a tracker with an empty watch index.
func NewConfirmationTracker(repo store.Repository, gateway ChainGateway, notifier notify.Notifier) *ConfirmationTracker {
	return &ConfirmationTracker{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		batches:  make(map[string]*confirmationBatch),
	}
}

// Begin registers a leased request before its transactions are submitted.
// The expected count is fixed up front so a confirmation that races the
// remaining Watch calls still completes the batch correctly.
func (t *ConfirmationTracker) Begin(req *domain.TransferRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[req.ID] = &confirmationBatch{
		req:       req,
		expected:  len(req.Destinations),
		confirmed: make(map[string]bool),
		watched:   make(map[string]Subscription),
	}
}

// Watch subscribes to confirmations for one submitted transaction. The
// stream is keyed by recipient address; matching against the submitted hash
// filters out unrelated payments to the same recipient.
func (t *ConfirmationTracker) Watch(requestID, txHash, recipient string) {
	sub := t.gateway.OnConfirmed(recipient, func(tx ConfirmedTx) {
		if tx.Hash != txHash {
			return
		}
		t.onConfirmed(requestID, tx)
	})

	t.mu.Lock()
	batch, ok := t.batches[requestID]
	if !ok {
		// Abandoned between submit and watch; drop the subscription.
		t.mu.Unlock()
		sub.Cancel()
		return
	}
	batch.watched[txHash] = sub
	batch.hashes = append(batch.hashes, txHash)
	// A confirmation may have raced ahead of this Watch call; re-check
	// completion now that the batch membership is final.
	done := len(batch.confirmed) == batch.expected && len(batch.watched) == batch.expected
	if done {
		delete(t.batches, requestID)
	}
	t.mu.Unlock()

	if done {
		for _, s := range batch.watched {
			s.Cancel()
		}
		t.finalize(batch)
	}
}

// Abandon cancels all subscriptions for a request and forgets it. Used when
// a submission fails partway through a batch and the record is resolved as an
// error.
func (t *ConfirmationTracker) Abandon(requestID string) {
	t.mu.Lock()
	batch, ok := t.batches[requestID]
	if ok {
		delete(t.batches, requestID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range batch.watched {
		sub.Cancel()
	}
}

// Watching reports whether a request currently has a live batch. Exposed for
// the ops surface and tests.
func (t *ConfirmationTracker) Watching(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.batches[requestID]
	return ok
}

func (t *ConfirmationTracker) onConfirmed(requestID string, tx ConfirmedTx) {
	t.mu.Lock()
	batch, ok := t.batches[requestID]
	if !ok {
		// Stale confirmation for a request that has already resolved.
		t.mu.Unlock()
		return
	}
	if batch.confirmed[tx.Hash] {
		t.mu.Unlock()
		return
	}
	batch.confirmed[tx.Hash] = true
	if tx.Height > batch.height {
		batch.height = tx.Height
	}
	done := len(batch.confirmed) == batch.expected && len(batch.watched) == batch.expected
	if done {
		delete(t.batches, requestID)
	}
	t.mu.Unlock()

	log.Printf("level=info component=confirmations msg=\"transaction confirmed\" request_id=%s tx_hash=%s height=%d", requestID, tx.Hash, tx.Height)

	if done {
		for _, sub := range batch.watched {
			sub.Cancel()
		}
		t.finalize(batch)
	}
}

// finalize archives a fully-confirmed batch and notifies the originating
// channel exactly once. Notification failure never rolls the archive back.
func (t *ConfirmationTracker) finalize(batch *confirmationBatch) {
	ctx := context.Background()
	archived, err := t.repo.ArchiveComplete(ctx, batch.req.ID, batch.hashes, batch.height)
	if err != nil {
		log.Printf("level=error component=confirmations msg=\"archive failed\" request_id=%s err=%v", batch.req.ID, err)
		return
	}

	message := successMessage(archived)
	proofRef := ""
	if len(archived.TxHashes) > 0 {
		proofRef = archived.TxHashes[0]
	}
	if err := t.notifier.Deliver(ctx, archived.ReplyTarget, message, proofRef); err != nil {
		log.Printf("level=error component=confirmations msg=\"success notification failed\" request_id=%s err=%v", archived.ID, err)
	}
	log.Printf("level=info component=confirmations msg=\"transfer archived\" request_id=%s height=%d", archived.ID, archived.ConfirmedAtHeight)
}

func successMessage(archived *domain.ArchivedTransfer) string {
	switch archived.Kind {
	case domain.KindWithdraw:
		return "Your withdrawal of " + domain.FormatNIM(archived.TotalAmount) + " has been confirmed on chain."
	case domain.KindRain:
		return "Your rain of " + domain.FormatNIM(archived.TotalAmount) + " has been confirmed for all recipients."
	default:
		return "Your tip of " + domain.FormatNIM(archived.TotalAmount) + " has been confirmed on chain."
	}
}
