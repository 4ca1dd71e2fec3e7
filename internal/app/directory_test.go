package app

import (
	"context"
	"errors"
	"testing"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/store"
)

func TestGetOrCreateGeneratesAccountOnFirstSight(t *testing.T) {
	repo := newMemoryRepo()
	gateway := newStubGateway()
	directory := NewDirectory(repo, &stubKeygen{}, gateway)

	account, err := directory.GetOrCreate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if account.ExternalID != "alice" {
		t.Fatalf("expected external id alice, got %s", account.ExternalID)
	}
	if account.ChainAddress == "" || account.PrivateKeyHex == "" {
		t.Fatal("new account must carry a generated keypair")
	}

	again, err := directory.GetOrCreate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if again.ChainAddress != account.ChainAddress {
		t.Fatalf("lookup must be stable: %s != %s", again.ChainAddress, account.ChainAddress)
	}
}

// racingRepo makes the first lookup miss so the caller walks the creation
// path and collides with an already-persisted winner.
type racingRepo struct {
	store.Repository
	missed bool
}

func (r *racingRepo) GetAccountByExternalID(ctx context.Context, externalID string) (*domain.Account, error) {
	if !r.missed {
		r.missed = true
		return nil, store.ErrAccountNotFound
	}
	return r.Repository.GetAccountByExternalID(ctx, externalID)
}

func TestGetOrCreateLoserReReadsWinner(t *testing.T) {
	repo := newMemoryRepo()
	seedAccount(t, repo, "alice", addrA)
	directory := NewDirectory(&racingRepo{Repository: repo}, &stubKeygen{}, newStubGateway())

	account, err := directory.GetOrCreate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if account.ChainAddress != addrA {
		t.Fatalf("race loser must adopt the winner's account, got %s", account.ChainAddress)
	}
}

func TestBalanceOfReportsZeroOnChainFailure(t *testing.T) {
	repo := newMemoryRepo()
	gateway := newStubGateway()
	gateway.balanceErr = errors.New("rpc down")
	directory := NewDirectory(repo, &stubKeygen{}, gateway)

	balance := directory.BalanceOf(context.Background(), &domain.Account{ChainAddress: addrA})
	if balance != 0 {
		t.Fatalf("display balance must degrade to zero, got %d", balance)
	}
}
