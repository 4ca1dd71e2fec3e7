/**
 * @description
 * The account directory maps an external chat identity to a custodial chain
 * account, creating one on first sight. Creation is race-safe: the storage
 * layer's conditional insert guarantees at most one account per identity, and
 * the loser of a race re-reads the winner's record. Balance reads for display
 * paths degrade to zero on chain failure; spend authorization paths must read
 * the balance through the gateway directly and treat failure as hard.
 *
 * @dependencies
 * - internal/store: Account persistence.
 * - internal/domain: Account model.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/store"
)

// Directory is the account directory.
type Directory struct {
	repo    store.Repository
	keygen  KeyGenerator
	gateway ChainGateway
}

// NewDirectory creates an account directory.
func NewDirectory(repo store.Repository, keygen KeyGenerator, gateway ChainGateway) *Directory {
	return &Directory{repo: repo, keygen: keygen, gateway: gateway}
}

// GetOrCreate looks up the custodial account for an external identity,
// generating and persisting a new chain keypair if none exists yet.
func (d *Directory) GetOrCreate(ctx context.Context, externalID string) (*domain.Account, error) {
	account, err := d.repo.GetAccountByExternalID(ctx, externalID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}

	keypair, err := d.keygen.GenerateKeypair(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	candidate := &domain.Account{
		ExternalID:     externalID,
		ChainAddress:   keypair.Address,
		PrivateKeyHex:  keypair.PrivateKeyHex,
		RecoveryPhrase: keypair.RecoveryPhrase,
	}
	created, err := d.repo.CreateAccountIfAbsent(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost a creation race; the winner's record is authoritative.
		return d.repo.GetAccountByExternalID(ctx, externalID)
	}

	log.Printf("level=info component=directory msg=\"account created\" external_id=%s address=%s", externalID, keypair.Address)
	return d.repo.GetAccountByExternalID(ctx, externalID)
}

// BalanceOf reads the chain balance of an account. A chain read failure on
// this display path yields zero rather than an error.
func (d *Directory) BalanceOf(ctx context.Context, account *domain.Account) domain.Luna {
	balance, err := d.gateway.BalanceOf(ctx, account.ChainAddress)
	if err != nil {
		log.Printf("level=warn component=directory msg=\"balance read failed; reporting zero\" address=%s err=%v", account.ChainAddress, err)
		return 0
	}
	return balance
}
