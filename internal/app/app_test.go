package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/store"
)

// memoryRepo is an in-memory Repository with the same conditional-write
// semantics as the postgres implementation, so ledger state-machine behavior
// can be exercised without a database.
type memoryRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	live     map[string]*domain.TransferRequest
	archive  map[string]*domain.ArchivedTransfer
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[string]*domain.Account),
		live:     make(map[string]*domain.TransferRequest),
		archive:  make(map[string]*domain.ArchivedTransfer),
	}
}

func (m *memoryRepo) CreateAccountIfAbsent(_ context.Context, account *domain.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ExternalID]; ok {
		return false, nil
	}
	copied := *account
	copied.CreatedAt = time.Now()
	m.accounts[account.ExternalID] = &copied
	return true, nil
}

func (m *memoryRepo) GetAccountByExternalID(_ context.Context, externalID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[externalID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memoryRepo) InsertTransferIfAbsent(_ context.Context, req *domain.TransferRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[req.ID]; ok {
		return false, nil
	}
	copied := *req
	copied.Status = domain.StatusNew
	copied.CreatedAt = time.Now()
	m.live[req.ID] = &copied
	return true, nil
}

func (m *memoryRepo) ScanActionable(_ context.Context, limit int) ([]domain.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransferRequest
	for _, req := range m.live {
		if req.Status != domain.StatusNew {
			continue
		}
		out = append(out, *req)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) LeaseTransfer(_ context.Context, id string, height int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.live[id]
	if !ok || req.Status != domain.StatusNew {
		return false, nil
	}
	req.Status = domain.StatusPending
	h := height
	req.HeightAttempted = &h
	return true, nil
}

func (m *memoryRepo) ResolveRetry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.live[id]
	if !ok || req.Status != domain.StatusPending {
		return store.ErrTransferNotFound
	}
	req.Status = domain.StatusNew
	req.HeightAttempted = nil
	return nil
}

func (m *memoryRepo) RequeueStalePending(_ context.Context, maxAttemptHeight int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var moved int64
	for _, req := range m.live {
		if req.Status == domain.StatusPending && req.HeightAttempted != nil && *req.HeightAttempted <= maxAttemptHeight {
			req.Status = domain.StatusNew
			req.HeightAttempted = nil
			moved++
		}
	}
	return moved, nil
}

func (m *memoryRepo) ResolveError(_ context.Context, id string) (*domain.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.live[id]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	delete(m.live, id)
	return req, nil
}

func (m *memoryRepo) ArchiveComplete(_ context.Context, id string, txHashes []string, confirmedHeight int64) (*domain.ArchivedTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.live[id]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	delete(m.live, id)
	archived := &domain.ArchivedTransfer{
		ID:                req.ID,
		SourceExternalID:  req.SourceExternalID,
		SourceAddress:     req.SourceAddress,
		Destinations:      req.Destinations,
		TotalAmount:       req.TotalAmount,
		Kind:              req.Kind,
		ReplyTarget:       req.ReplyTarget,
		TxHashes:          txHashes,
		ConfirmedAtHeight: confirmedHeight,
		CreatedAt:         req.CreatedAt,
		ArchivedAt:        time.Now(),
	}
	m.archive[id] = archived
	return archived, nil
}

func (m *memoryRepo) GetTransfer(_ context.Context, id string) (*domain.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.live[id]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	copied := *req
	return &copied, nil
}

func (m *memoryRepo) GetArchivedTransfer(_ context.Context, id string) (*domain.ArchivedTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	archived, ok := m.archive[id]
	if !ok {
		return nil, store.ErrArchiveNotFound
	}
	copied := *archived
	return &copied, nil
}

func (m *memoryRepo) CountLiveTransfers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.live)), nil
}

func (m *memoryRepo) CountArchivedTransfers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.archive)), nil
}

// stubSub counts cancellations.
type stubSub struct {
	cancelled *int
	mu        *sync.Mutex
}

func (s stubSub) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.cancelled++
}

// stubGateway is a scriptable ChainGateway.
type stubGateway struct {
	mu          sync.Mutex
	ready       bool
	balances    map[string]domain.Luna
	balanceErr  error
	height      int64
	mempoolFree bool
	submitErr   error
	submitted   []SubmitRequest
	callbacks   map[string][]func(ConfirmedTx)
	nextHash    int
	cancelled   int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		ready:       true,
		balances:    make(map[string]domain.Luna),
		mempoolFree: true,
		height:      100,
		callbacks:   make(map[string][]func(ConfirmedTx)),
	}
}

func (g *stubGateway) IsReady(context.Context) bool { return g.ready }

func (g *stubGateway) BalanceOf(_ context.Context, address string) (domain.Luna, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balanceErr != nil {
		return 0, g.balanceErr
	}
	return g.balances[address], nil
}

func (g *stubGateway) CurrentHeight(context.Context) (int64, error) { return g.height, nil }

func (g *stubGateway) HasMempoolCapacity(context.Context) bool { return g.mempoolFree }

func (g *stubGateway) Submit(_ context.Context, req SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.nextHash++
	g.submitted = append(g.submitted, req)
	return fmt.Sprintf("hash-%d", g.nextHash), nil
}

func (g *stubGateway) OnConfirmed(recipient string, fn func(ConfirmedTx)) Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks[recipient] = append(g.callbacks[recipient], fn)
	return stubSub{cancelled: &g.cancelled, mu: &g.mu}
}

// confirm fires every live callback registered for a recipient.
func (g *stubGateway) confirm(recipient, hash string, height int64) {
	g.mu.Lock()
	fns := append([]func(ConfirmedTx){}, g.callbacks[recipient]...)
	g.mu.Unlock()
	for _, fn := range fns {
		fn(ConfirmedTx{Hash: hash, Recipient: recipient, Height: height})
	}
}

func (g *stubGateway) submittedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

// stubNotifier records every delivery.
type stubNotifier struct {
	mu         sync.Mutex
	deliveries []struct {
		Target   domain.ReplyTarget
		Message  string
		ProofRef string
	}
}

func (n *stubNotifier) Deliver(_ context.Context, target domain.ReplyTarget, message, proofRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, struct {
		Target   domain.ReplyTarget
		Message  string
		ProofRef string
	}{target, message, proofRef})
	return nil
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deliveries)
}

// stubKeygen hands out deterministic addresses.
type stubKeygen struct {
	mu   sync.Mutex
	next int
}

func (k *stubKeygen) GenerateKeypair(context.Context) (*domain.Keypair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.next++
	return &domain.Keypair{
		Address:        fmt.Sprintf("NQ%02d ADDR %04d 0000 0000 0000 0000 0000 0000", k.next%100, k.next),
		PrivateKeyHex:  fmt.Sprintf("key-%d", k.next),
		RecoveryPhrase: fmt.Sprintf("phrase-%d", k.next),
	}, nil
}
