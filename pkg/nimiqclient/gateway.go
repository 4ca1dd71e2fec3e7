/**
 * @description
 * Chain gateway adapter: binds the raw RPC client to the settlement core's
 * ChainGateway and KeyGenerator contracts. Confirmation subscriptions are
 * implemented by polling the node's per-address transaction history; a
 * transaction counts as confirmed once it reports a block number. Each
 * subscription owns its own goroutine and is torn down through its context.
 *
 * @dependencies
 * - context, log, sync, time: Standard Go libraries.
 * - internal/app, internal/domain: Gateway contracts and amount types.
 */
package nimiqclient

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nimtipbot/settlement-service/internal/app"
	"github.com/nimtipbot/settlement-service/internal/domain"
)

// Gateway adapts a Nimiq RPC client to the settlement core.
type Gateway struct {
	client *Client
}

// NewGateway wraps an RPC client in the settlement gateway contract.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// IsReady reports whether network consensus is established.
func (g *Gateway) IsReady(ctx context.Context) bool {
	return g.client.IsReady(ctx)
}

// BalanceOf returns the confirmed balance of an address in luna.
func (g *Gateway) BalanceOf(ctx context.Context, address string) (domain.Luna, error) {
	balance, err := g.client.BalanceOfAddress(ctx, address)
	if err != nil {
		return 0, err
	}
	return domain.Luna(balance), nil
}

// CurrentHeight returns the chain head height.
func (g *Gateway) CurrentHeight(ctx context.Context) (int64, error) {
	return g.client.CurrentHeight(ctx)
}

// HasMempoolCapacity reports whether another transaction would be admitted.
func (g *Gateway) HasMempoolCapacity(ctx context.Context) bool {
	return g.client.HasMempoolCapacity(ctx)
}

// Submit relays one signed transfer and returns its hash.
func (g *Gateway) Submit(ctx context.Context, req app.SubmitRequest) (string, error) {
	return g.client.SendBasicTransaction(ctx, req.SenderKeyHex, req.Recipient, int64(req.Amount), req.ValidityStartHeight)
}

// GenerateKeypair asks the node for a fresh account.
func (g *Gateway) GenerateKeypair(ctx context.Context) (*domain.Keypair, error) {
	wallet, err := g.client.CreateWallet(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.Keypair{
		Address:        wallet.Address,
		PrivateKeyHex:  wallet.PrivateKey,
		RecoveryPhrase: wallet.Mnemonic,
	}, nil
}

type pollSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

// Cancel stops the subscription's poll loop. Safe to call more than once.
func (s *pollSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// OnConfirmed polls the node for transactions paying the recipient and fires
// the callback once per newly confirmed transaction. Transactions already
// confirmed before the subscription began are reported too; the caller is
// expected to filter by hash.
func (g *Gateway) OnConfirmed(recipient string, fn func(app.ConfirmedTx)) app.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &pollSubscription{cancel: cancel}

	go func() {
		interval := g.client.PollInterval
		if interval <= 0 {
			interval = defaultPollInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		seen := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			txs, err := g.client.TransactionsByAddress(ctx, recipient, defaultTxPageSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("level=warn component=nimiq_client msg=\"confirmation poll failed\" recipient=%s err=%v", recipient, err)
				continue
			}
			for _, tx := range txs {
				if tx.BlockNumber <= 0 || seen[tx.Hash] {
					continue
				}
				seen[tx.Hash] = true
				if ctx.Err() != nil {
					return
				}
				fn(app.ConfirmedTx{Hash: tx.Hash, Recipient: tx.Recipient, Height: tx.BlockNumber})
			}
		}
	}()

	return sub
}
