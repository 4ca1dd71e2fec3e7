/**
 * @description
 * The settlement poller: a periodic batch loop that drains actionable ledger
 * records onto the chain. Each tick it skips entirely when the chain has no
 * consensus, re-validates balances with fresh reads, takes leases through the
 * ledger's conditional update (the only concurrency-control primitive), defers
 * work under mempool backpressure, and hands submitted batches to the
 * confirmation tracker. All chain and storage faults are translated here; one
 * failing record never blocks the rest of the batch, and no fault escapes a
 * tick.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Drives the tick schedule (wired in cmd/main).
 * - internal/store, internal/notify, internal/domain.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/notify"
	"github.com/nimtipbot/settlement-service/internal/store"
)

// Poller is the settlement loop.
type Poller struct {
	repo     store.Repository
	gateway  ChainGateway
	notifier notify.Notifier
	tracker  *ConfirmationTracker
	maxItems int

	// requeueAfterBlocks, when positive, returns pending records whose
	// attempt is older than this many blocks to the actionable pool. Zero
	// disables the sweep; in-flight submissions are then never requeued.
	requeueAfterBlocks int64
}

// NewPoller creates a settlement poller that processes at most maxItems
// records per tick.
func NewPoller(repo store.Repository, gateway ChainGateway, notifier notify.Notifier, tracker *ConfirmationTracker, maxItems int) *Poller {
	if maxItems <= 0 {
		maxItems = 25
	}
	return &Poller{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		tracker:  tracker,
		maxItems: maxItems,
	}
}

// SetRequeueAfterBlocks enables the stale-pending sweep with the given block
// age cutoff.
func (p *Poller) SetRequeueAfterBlocks(blocks int64) {
	p.requeueAfterBlocks = blocks
}

// Tick runs one settlement pass. Safe to call from a scheduler callback;
// never returns an error and never panics the schedule.
func (p *Poller) Tick(ctx context.Context) {
	if !p.gateway.IsReady(ctx) {
		log.Printf("level=info component=poller msg=\"chain not ready; skipping tick\"")
		return
	}

	p.sweepStalePending(ctx)

	requests, err := p.repo.ScanActionable(ctx, p.maxItems)
	if err != nil {
		log.Printf("level=error component=poller msg=\"actionable scan failed\" err=%v", err)
		return
	}
	if len(requests) == 0 {
		return
	}
	log.Printf("level=info component=poller msg=\"tick\" actionable=%d", len(requests))

	for i := range requests {
		req := requests[i]
		if err := p.settle(ctx, &req); err != nil {
			// Contained: the record stays in whatever state its conditional
			// updates left it in and the loop moves on.
			log.Printf("level=error component=poller msg=\"settle failed\" request_id=%s err=%v", req.ID, err)
		}
	}
}

// sweepStalePending returns long-pending records to the actionable pool.
// Only useful after a crash: a record still watched in this process keeps its
// in-flight submission and is skipped by settle below.
func (p *Poller) sweepStalePending(ctx context.Context) {
	if p.requeueAfterBlocks <= 0 {
		return
	}
	height, err := p.gateway.CurrentHeight(ctx)
	if err != nil {
		log.Printf("level=warn component=poller msg=\"height read failed; skipping stale sweep\" err=%v", err)
		return
	}
	cutoff := height - p.requeueAfterBlocks
	if cutoff <= 0 {
		return
	}
	moved, err := p.repo.RequeueStalePending(ctx, cutoff)
	if err != nil {
		log.Printf("level=error component=poller msg=\"stale sweep failed\" err=%v", err)
		return
	}
	if moved > 0 {
		log.Printf("level=info component=poller msg=\"stale pending requeued\" count=%d cutoff_height=%d", moved, cutoff)
	}
}

func (p *Poller) settle(ctx context.Context, req *domain.TransferRequest) error {
	if p.tracker.Watching(req.ID) {
		// A previous attempt from this process is still awaiting
		// confirmation; re-submitting would double spend.
		return nil
	}

	// Fresh balance read before taking the lease: the balance may have
	// dropped since the request was queued (e.g. a withdrawal and a tip
	// racing against the same account).
	balance, err := p.gateway.BalanceOf(ctx, req.SourceAddress)
	if err != nil {
		// Recoverable read fault; leave the record new for the next tick.
		return fmt.Errorf("balance read: %w", err)
	}
	if balance < req.TotalAmount {
		return p.failRequest(ctx, req.ID, fmt.Sprintf("Insufficient funds: balance is %s but the transfer needs %s.", domain.FormatNIM(balance), domain.FormatNIM(req.TotalAmount)))
	}

	height, err := p.gateway.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("height read: %w", err)
	}

	leased, err := p.repo.LeaseTransfer(ctx, req.ID, height)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}
	if !leased {
		// Another poller (or an overlapping tick) owns it.
		return nil
	}

	if !p.gateway.HasMempoolCapacity(ctx) {
		// Bounded backpressure: defer, never drop.
		log.Printf("level=info component=poller msg=\"mempool full; deferring\" request_id=%s", req.ID)
		if err := p.repo.ResolveRetry(ctx, req.ID); err != nil {
			return fmt.Errorf("resolve retry: %w", err)
		}
		return nil
	}

	account, err := p.repo.GetAccountByExternalID(ctx, req.SourceExternalID)
	if err != nil {
		// Storage fault after leasing; put the record back for a later tick.
		if retryErr := p.repo.ResolveRetry(ctx, req.ID); retryErr != nil {
			return fmt.Errorf("account read: %v; resolve retry: %w", err, retryErr)
		}
		return fmt.Errorf("account read: %w", err)
	}

	// Sequential submission bounds admission pressure per source in one tick.
	p.tracker.Begin(req)
	for _, dest := range req.Destinations {
		hash, err := p.gateway.Submit(ctx, SubmitRequest{
			SenderKeyHex:        account.PrivateKeyHex,
			Recipient:           dest.Address,
			Amount:              dest.Amount,
			ValidityStartHeight: height,
		})
		if err != nil {
			// Relay rejected the built transaction: unrecoverable.
			p.tracker.Abandon(req.ID)
			return p.failRequest(ctx, req.ID, fmt.Sprintf("The network rejected the transaction: %v", err))
		}
		log.Printf("level=info component=poller msg=\"transaction submitted\" request_id=%s recipient=%s tx_hash=%s height=%d", req.ID, dest.Address, hash, height)
		p.tracker.Watch(req.ID, hash, dest.Address)
	}

	return nil
}

// failRequest resolves a record as an unrecoverable error and notifies the
// originating channel with the reason.
func (p *Poller) failRequest(ctx context.Context, id, reason string) error {
	removed, err := p.repo.ResolveError(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve error: %w", err)
	}
	if deliverErr := p.notifier.Deliver(ctx, removed.ReplyTarget, reason, ""); deliverErr != nil {
		log.Printf("level=error component=poller msg=\"failure notification failed\" request_id=%s err=%v", id, deliverErr)
	}
	log.Printf("level=info component=poller msg=\"transfer failed\" request_id=%s reason=%q", id, reason)
	return nil
}
