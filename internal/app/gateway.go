/**
 * @description
 * Consumer-side contracts for the chain. The settlement core talks to the
 * network exclusively through ChainGateway; the concrete adapter lives in
 * pkg/nimiqclient. Key generation is a separate, narrower contract so the
 * account directory never learns how key material is derived.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: Amount and keypair models.
 */

package app

import (
	"context"

	"github.com/nimtipbot/settlement-service/internal/domain"
)

// ConfirmedTx is one finalized chain transaction delivered on a confirmation
// subscription.
type ConfirmedTx struct {
	Hash      string
	Recipient string
	Height    int64
}

// Subscription is a cancellable confirmation stream handle. Cancel must be
// safe to call more than once; after Cancel no further callbacks fire.
type Subscription interface {
	Cancel()
}

// SubmitRequest is one signed transfer handed to the chain for relay. The
// private key is passed by value for the duration of the call only.
type SubmitRequest struct {
	SenderKeyHex        string
	Recipient           string
	Amount              domain.Luna
	ValidityStartHeight int64
}

// ChainGateway supplies balance reads, transaction submission, admission
// control and an asynchronous confirmation stream.
type ChainGateway interface {
	// IsReady reports whether network consensus is established. When false
	// the settlement poller skips the entire tick.
	IsReady(ctx context.Context) bool
	BalanceOf(ctx context.Context, address string) (domain.Luna, error)
	CurrentHeight(ctx context.Context) (int64, error)
	// HasMempoolCapacity reports whether the network will admit another
	// transaction right now. Backpressure, not queueing: when false the
	// caller defers the work via the ledger.
	HasMempoolCapacity(ctx context.Context) bool
	// Submit relays one transaction and returns its hash.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// OnConfirmed subscribes to finalized transactions paying the given
	// recipient. One callback fires per confirmed transaction until the
	// subscription is cancelled.
	OnConfirmed(recipient string, fn func(ConfirmedTx)) Subscription
}

// KeyGenerator produces fresh chain key material for new custodial accounts.
type KeyGenerator interface {
	GenerateKeypair(ctx context.Context) (*domain.Keypair, error)
}
