/**
 * @description
 * This file defines the `Repository` interface, the contract for all durable
 * state the settlement-service owns: custodial accounts, the live transfer
 * ledger and the archive of completed settlements. Every status transition is
 * expressed as a conditional write so that the storage layer is the single
 * concurrency-control primitive; no in-process locks guard ledger state.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"

	"github.com/nimtipbot/settlement-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account directory methods.
	// CreateAccountIfAbsent inserts the account unless one already exists for
	// the same external identity. It reports whether the insert happened; the
	// loser of a creation race re-reads the winner's record.
	CreateAccountIfAbsent(ctx context.Context, account *domain.Account) (bool, error)
	GetAccountByExternalID(ctx context.Context, externalID string) (*domain.Account, error)

	// Ledger methods.
	// InsertTransferIfAbsent is an atomic create-or-noop keyed on the request
	// id (the originating message id). It reports whether the insert happened,
	// distinguishing new work from an already-seen command.
	InsertTransferIfAbsent(ctx context.Context, req *domain.TransferRequest) (bool, error)
	// ScanActionable returns up to limit records with status new. No ordering
	// is guaranteed across records; callers must not rely on one.
	ScanActionable(ctx context.Context, limit int) ([]domain.TransferRequest, error)
	// LeaseTransfer conditionally moves new -> pending, recording the chain
	// height at which the attempt started. It reports whether the lease was
	// won; a record that is not currently new is left untouched.
	LeaseTransfer(ctx context.Context, id string, height int64) (bool, error)
	// ResolveRetry moves pending -> new and clears the attempt height so a
	// later tick can pick the record up again.
	ResolveRetry(ctx context.Context, id string) error
	// RequeueStalePending moves every pending record whose attempt height is
	// at or below the given height back to new. Recovers records orphaned by
	// a crash between submission and confirmation; returns how many moved.
	RequeueStalePending(ctx context.Context, maxAttemptHeight int64) (int64, error)
	// ResolveError deletes the live record and returns it so the caller can
	// notify the originating channel about the failure.
	ResolveError(ctx context.Context, id string) (*domain.TransferRequest, error)
	// ArchiveComplete atomically moves the live record into the archive,
	// tagged with the confirming transaction hashes and height.
	ArchiveComplete(ctx context.Context, id string, txHashes []string, confirmedHeight int64) (*domain.ArchivedTransfer, error)

	GetTransfer(ctx context.Context, id string) (*domain.TransferRequest, error)
	GetArchivedTransfer(ctx context.Context, id string) (*domain.ArchivedTransfer, error)
	CountLiveTransfers(ctx context.Context) (int64, error)
	CountArchivedTransfers(ctx context.Context) (int64, error)
}
