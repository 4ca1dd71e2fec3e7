package app

import (
	"context"
	"errors"
	"testing"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/store"
)

func trackerFixture() (*memoryRepo, *stubGateway, *stubNotifier, *ConfirmationTracker) {
	repo := newMemoryRepo()
	gateway := newStubGateway()
	notifier := &stubNotifier{}
	return repo, gateway, notifier, NewConfirmationTracker(repo, gateway, notifier)
}

func leasedRainRequest(t *testing.T, repo *memoryRepo) *domain.TransferRequest {
	t.Helper()
	req := &domain.TransferRequest{
		ID:               "rain1",
		SourceExternalID: "alice",
		SourceAddress:    addrA,
		Destinations: []domain.Destination{
			{Address: addrB, Amount: 333_333},
			{Address: addrC, Amount: 333_333},
			{Address: addrD, Amount: 333_333},
		},
		TotalAmount: 999_999,
		Kind:        domain.KindRain,
		ReplyTarget: domain.ReplyTarget{Platform: domain.PlatformDiscord, Kind: domain.ReplyKindReply, MessageID: "rain1"},
	}
	if inserted, err := repo.InsertTransferIfAbsent(context.Background(), req); err != nil || !inserted {
		t.Fatalf("insert: inserted=%t err=%v", inserted, err)
	}
	if leased, err := repo.LeaseTransfer(context.Background(), req.ID, 100); err != nil || !leased {
		t.Fatalf("lease: leased=%t err=%v", leased, err)
	}
	return req
}

func TestFanOutArchivesOnlyWhenAllConfirm(t *testing.T) {
	repo, gateway, notifier, tracker := trackerFixture()
	req := leasedRainRequest(t, repo)

	tracker.Begin(req)
	tracker.Watch(req.ID, "h1", addrB)
	tracker.Watch(req.ID, "h2", addrC)
	tracker.Watch(req.ID, "h3", addrD)

	// Confirmations arrive out of submission order.
	gateway.confirm(addrD, "h3", 110)
	gateway.confirm(addrB, "h1", 111)

	if _, err := repo.GetTransfer(context.Background(), req.ID); err != nil {
		t.Fatalf("record must stay live until every destination confirms: %v", err)
	}
	if notifier.count() != 0 {
		t.Fatal("no notification before the batch completes")
	}

	gateway.confirm(addrC, "h2", 112)

	archived, err := repo.GetArchivedTransfer(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("expected archived record: %v", err)
	}
	if archived.ConfirmedAtHeight != 112 {
		t.Fatalf("expected highest confirming height 112, got %d", archived.ConfirmedAtHeight)
	}
	if len(archived.TxHashes) != 3 {
		t.Fatalf("expected 3 tx hashes, got %v", archived.TxHashes)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.count())
	}
	if gateway.cancelled != 3 {
		t.Fatalf("expected 3 cancelled subscriptions, got %d", gateway.cancelled)
	}
}

func TestDuplicateConfirmationIsIdempotent(t *testing.T) {
	repo, gateway, notifier, tracker := trackerFixture()
	req := leasedRainRequest(t, repo)

	tracker.Begin(req)
	tracker.Watch(req.ID, "h1", addrB)
	tracker.Watch(req.ID, "h2", addrC)
	tracker.Watch(req.ID, "h3", addrD)

	gateway.confirm(addrB, "h1", 110)
	gateway.confirm(addrB, "h1", 110)

	if _, err := repo.GetTransfer(context.Background(), req.ID); err != nil {
		t.Fatalf("duplicate confirmation must not complete the batch: %v", err)
	}
	if notifier.count() != 0 {
		t.Fatal("no notification for a duplicate confirmation")
	}
}

func TestUnrelatedPaymentToWatchedRecipientIgnored(t *testing.T) {
	repo, gateway, notifier, tracker := trackerFixture()
	req := leasedRainRequest(t, repo)

	tracker.Begin(req)
	tracker.Watch(req.ID, "h1", addrB)
	tracker.Watch(req.ID, "h2", addrC)
	tracker.Watch(req.ID, "h3", addrD)

	// Someone else pays addrB at the same time; the hash does not match.
	gateway.confirm(addrB, "other-hash", 110)

	if _, err := repo.GetTransfer(context.Background(), req.ID); err != nil {
		t.Fatalf("unrelated payment must not touch the batch: %v", err)
	}
	if notifier.count() != 0 {
		t.Fatal("no notification for an unrelated payment")
	}
}

func TestStaleConfirmationAfterAbandonIsDiscarded(t *testing.T) {
	repo, gateway, notifier, tracker := trackerFixture()
	req := leasedRainRequest(t, repo)

	tracker.Begin(req)
	tracker.Watch(req.ID, "h1", addrB)
	tracker.Abandon(req.ID)

	if gateway.cancelled != 1 {
		t.Fatalf("abandon must cancel live subscriptions, got %d", gateway.cancelled)
	}

	// The record was resolved as an error elsewhere; a late confirmation
	// must not resurrect or archive it.
	if _, err := repo.ResolveError(context.Background(), req.ID); err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	gateway.confirm(addrB, "h1", 120)

	if _, err := repo.GetArchivedTransfer(context.Background(), req.ID); !errors.Is(err, store.ErrArchiveNotFound) {
		t.Fatalf("stale confirmation must not archive, got %v", err)
	}
	if notifier.count() != 0 {
		t.Fatal("stale confirmation must not notify")
	}
}

func TestWatchAfterAbandonCancelsImmediately(t *testing.T) {
	repo, gateway, _, tracker := trackerFixture()
	req := leasedRainRequest(t, repo)

	tracker.Begin(req)
	tracker.Abandon(req.ID)
	tracker.Watch(req.ID, "h1", addrB)

	if gateway.cancelled != 1 {
		t.Fatalf("watch on an abandoned request must cancel its subscription, got %d", gateway.cancelled)
	}
	if tracker.Watching(req.ID) {
		t.Fatal("abandoned request must not be watched")
	}
}
