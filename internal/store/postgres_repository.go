/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for the account directory, the
 * live transfer ledger and the settlement archive. The lease and
 * insert-if-absent operations rely on conditional writes (`ON CONFLICT DO
 * NOTHING`, `UPDATE ... WHERE status = ...`) so that concurrent pollers can
 * never double-submit the same request.
 *
 * @dependencies
 * - context, encoding/json, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nimtipbot/settlement-service/internal/domain"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrTransferNotFound = errors.New("transfer request not found")
	ErrArchiveNotFound  = errors.New("archived transfer not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccountIfAbsent inserts a custodial account unless one already exists
// for the external identity. The conditional insert is what guarantees
// at-most-one account per identity under concurrent creation.
func (r *PostgresRepository) CreateAccountIfAbsent(ctx context.Context, account *domain.Account) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO accounts (external_id, chain_address, private_key_hex, recovery_phrase, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (external_id) DO NOTHING
	`, account.ExternalID, account.ChainAddress, account.PrivateKeyHex, account.RecoveryPhrase)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetAccountByExternalID retrieves the custodial account for a chat identity.
func (r *PostgresRepository) GetAccountByExternalID(ctx context.Context, externalID string) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT external_id, chain_address, private_key_hex, recovery_phrase, created_at
		FROM accounts
		WHERE external_id = $1
	`
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&account.ExternalID,
		&account.ChainAddress,
		&account.PrivateKeyHex,
		&account.RecoveryPhrase,
		&account.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// InsertTransferIfAbsent records a new transfer request unless the idempotency
// key has already been seen. Duplicate commands are silently absorbed.
func (r *PostgresRepository) InsertTransferIfAbsent(ctx context.Context, req *domain.TransferRequest) (bool, error) {
	destinations, err := json.Marshal(req.Destinations)
	if err != nil {
		return false, fmt.Errorf("marshal destinations: %w", err)
	}
	replyTarget, err := json.Marshal(req.ReplyTarget)
	if err != nil {
		return false, fmt.Errorf("marshal reply target: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO transfer_requests
			(id, source_external_id, source_address, destinations, total_amount, status, kind, reply_target, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO NOTHING
	`, req.ID, req.SourceExternalID, req.SourceAddress, destinations, int64(req.TotalAmount), domain.StatusNew, req.Kind, replyTarget)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const transferColumns = `
	id, source_external_id, source_address, destinations, total_amount, status, kind, reply_target, height_attempted, created_at
`

func scanTransfer(row pgx.Row) (*domain.TransferRequest, error) {
	var (
		req              domain.TransferRequest
		destinationsJSON []byte
		replyTargetJSON  []byte
		totalAmount      int64
	)
	err := row.Scan(
		&req.ID,
		&req.SourceExternalID,
		&req.SourceAddress,
		&destinationsJSON,
		&totalAmount,
		&req.Status,
		&req.Kind,
		&replyTargetJSON,
		&req.HeightAttempted,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(destinationsJSON, &req.Destinations); err != nil {
		return nil, fmt.Errorf("unmarshal destinations: %w", err)
	}
	if err := json.Unmarshal(replyTargetJSON, &req.ReplyTarget); err != nil {
		return nil, fmt.Errorf("unmarshal reply target: %w", err)
	}
	req.TotalAmount = domain.Luna(totalAmount)
	return &req, nil
}

// ScanActionable returns up to limit actionable (status new) requests. The
// result order is whatever the database produces; processing order across
// requests is explicitly unspecified.
func (r *PostgresRepository) ScanActionable(ctx context.Context, limit int) ([]domain.TransferRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfer_requests
		WHERE status = $1
		LIMIT $2
	`, domain.StatusNew, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.TransferRequest
	for rows.Next() {
		req, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// LeaseTransfer is the sole mutual-exclusion primitive of the settlement
// engine: the conditional update succeeds for exactly one caller when several
// pollers race on the same new record.
func (r *PostgresRepository) LeaseTransfer(ctx context.Context, id string, height int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transfer_requests
		SET status = $1, height_attempted = $2
		WHERE id = $3 AND status = $4
	`, domain.StatusPending, height, id, domain.StatusNew)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveRetry returns a leased record to the actionable pool, clearing the
// recorded attempt height. Used for recoverable outcomes (mempool full).
func (r *PostgresRepository) ResolveRetry(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transfer_requests
		SET status = $1, height_attempted = NULL
		WHERE id = $2 AND status = $3
	`, domain.StatusNew, id, domain.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// RequeueStalePending sweeps pending records whose attempt height is at or
// below the cutoff back into the actionable pool.
func (r *PostgresRepository) RequeueStalePending(ctx context.Context, maxAttemptHeight int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transfer_requests
		SET status = $1, height_attempted = NULL
		WHERE status = $2 AND height_attempted <= $3
	`, domain.StatusNew, domain.StatusPending, maxAttemptHeight)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResolveError deletes the live record for an unrecoverable failure and
// returns it so the caller can notify the originating channel.
func (r *PostgresRepository) ResolveError(ctx context.Context, id string) (*domain.TransferRequest, error) {
	row := r.db.QueryRow(ctx, `
		DELETE FROM transfer_requests
		WHERE id = $1
		RETURNING `+transferColumns+`
	`, id)
	req, err := scanTransfer(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return req, nil
}

// ArchiveComplete moves a settled record from the live ledger into the
// archive in a single transaction so the request is never visible in both
// tables, and never absent from both.
func (r *PostgresRepository) ArchiveComplete(ctx context.Context, id string, txHashes []string, confirmedHeight int64) (*domain.ArchivedTransfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		DELETE FROM transfer_requests
		WHERE id = $1
		RETURNING `+transferColumns+`
	`, id)
	req, err := scanTransfer(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}

	destinations, err := json.Marshal(req.Destinations)
	if err != nil {
		return nil, fmt.Errorf("marshal destinations: %w", err)
	}
	replyTarget, err := json.Marshal(req.ReplyTarget)
	if err != nil {
		return nil, fmt.Errorf("marshal reply target: %w", err)
	}

	var archived domain.ArchivedTransfer
	err = tx.QueryRow(ctx, `
		INSERT INTO transfer_archive
			(id, source_external_id, source_address, destinations, total_amount, kind, reply_target, tx_hashes, confirmed_at_height, created_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING archived_at
	`, req.ID, req.SourceExternalID, req.SourceAddress, destinations, int64(req.TotalAmount), req.Kind, replyTarget, txHashes, confirmedHeight, req.CreatedAt).Scan(&archived.ArchivedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	archived.ID = req.ID
	archived.SourceExternalID = req.SourceExternalID
	archived.SourceAddress = req.SourceAddress
	archived.Destinations = req.Destinations
	archived.TotalAmount = req.TotalAmount
	archived.Kind = req.Kind
	archived.ReplyTarget = req.ReplyTarget
	archived.TxHashes = txHashes
	archived.ConfirmedAtHeight = confirmedHeight
	archived.CreatedAt = req.CreatedAt
	return &archived, nil
}

// GetTransfer retrieves a live ledger record by idempotency key.
func (r *PostgresRepository) GetTransfer(ctx context.Context, id string) (*domain.TransferRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfer_requests
		WHERE id = $1
	`, id)
	req, err := scanTransfer(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return req, nil
}

// GetArchivedTransfer retrieves a completed settlement record.
func (r *PostgresRepository) GetArchivedTransfer(ctx context.Context, id string) (*domain.ArchivedTransfer, error) {
	var (
		archived         domain.ArchivedTransfer
		destinationsJSON []byte
		replyTargetJSON  []byte
		totalAmount      int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, source_external_id, source_address, destinations, total_amount, kind, reply_target, tx_hashes, confirmed_at_height, created_at, archived_at
		FROM transfer_archive
		WHERE id = $1
	`, id).Scan(
		&archived.ID,
		&archived.SourceExternalID,
		&archived.SourceAddress,
		&destinationsJSON,
		&totalAmount,
		&archived.Kind,
		&replyTargetJSON,
		&archived.TxHashes,
		&archived.ConfirmedAtHeight,
		&archived.CreatedAt,
		&archived.ArchivedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrArchiveNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(destinationsJSON, &archived.Destinations); err != nil {
		return nil, fmt.Errorf("unmarshal destinations: %w", err)
	}
	if err := json.Unmarshal(replyTargetJSON, &archived.ReplyTarget); err != nil {
		return nil, fmt.Errorf("unmarshal reply target: %w", err)
	}
	archived.TotalAmount = domain.Luna(totalAmount)
	return &archived, nil
}

// CountLiveTransfers returns the number of records in the live ledger.
func (r *PostgresRepository) CountLiveTransfers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_requests`).Scan(&count)
	return count, err
}

// CountArchivedTransfers returns the number of completed settlements.
func (r *PostgresRepository) CountArchivedTransfers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_archive`).Scan(&count)
	return count, err
}
