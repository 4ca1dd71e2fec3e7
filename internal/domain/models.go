/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * These structs represent the custodial accounts, the durable transfer ledger
 * records, and the opaque reply metadata carried back to the chat surfaces.
 *
 * @notes
 * - Amounts are stored as `Luna` (int64, the chain's smallest unit) to avoid
 *   floating-point inaccuracies with financial data. 1 NIM = 100,000 luna.
 * - A TransferRequest's `ID` is the originating chat message/comment id and
 *   doubles as the idempotency key for exactly-once acceptance of commands.
 */

package domain

import (
	"time"
)

// Transfer request statuses. A record only ever advances through the
// conditional updates exposed by the store:
//
//	new --(lease)--> pending --(confirmation)--> archived
//	pending --(mempool full / chain unready)--> new
//	pending --(relay rejected, balance vanished)--> deleted, user notified
//
// The terminal outcomes never exist as stored statuses: completion moves the
// record into transfer_archive and failure deletes it, so the live ledger
// only ever holds new and pending rows.
const (
	StatusNew     = "new"
	StatusPending = "pending"
)

// Transfer request kinds, matching the chat commands that produce them.
const (
	KindTip      = "tip"
	KindWithdraw = "withdraw"
	KindRain     = "rain"
)

// Chat platforms served by the command normalizers.
const (
	PlatformDiscord = "discord"
	PlatformReddit  = "reddit"
)

// Account maps an external chat identity to a custodial chain account.
// Created once per external identity and immutable thereafter. The private
// key is owned exclusively by the account directory and is only ever passed
// by value into the chain gateway for signing.
type Account struct {
	ExternalID     string    `json:"external_id"`
	ChainAddress   string    `json:"chain_address"`
	PrivateKeyHex  string    `json:"-"`
	RecoveryPhrase string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Keypair is the material produced when a new custodial account is generated.
type Keypair struct {
	Address        string
	PrivateKeyHex  string
	RecoveryPhrase string
}

// Destination is one recipient within a transfer request. Tip and withdraw
// requests have exactly one destination; rain (batched distribution) has many.
type Destination struct {
	Address string `json:"address"`
	Amount  Luna   `json:"amount"`
}

// TransferRequest is the central ledger record for any pending value movement.
// It maps directly to the `transfer_requests` table.
type TransferRequest struct {
	ID               string        `json:"id"`
	SourceExternalID string        `json:"source_external_id"`
	SourceAddress    string        `json:"source_address"`
	Destinations     []Destination `json:"destinations"`
	TotalAmount      Luna          `json:"total_amount"`
	Status           string        `json:"status"`
	Kind             string        `json:"kind"`
	ReplyTarget      ReplyTarget   `json:"reply_target"`
	HeightAttempted  *int64        `json:"height_attempted,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ArchivedTransfer is the terminal record written when a transfer request has
// been confirmed on chain. It maps to the `transfer_archive` table.
type ArchivedTransfer struct {
	ID                string        `json:"id"`
	SourceExternalID  string        `json:"source_external_id"`
	SourceAddress     string        `json:"source_address"`
	Destinations      []Destination `json:"destinations"`
	TotalAmount       Luna          `json:"total_amount"`
	Kind              string        `json:"kind"`
	ReplyTarget       ReplyTarget   `json:"reply_target"`
	TxHashes          []string      `json:"tx_hashes"`
	ConfirmedAtHeight int64         `json:"confirmed_at_height"`
	CreatedAt         time.Time     `json:"created_at"`
	ArchivedAt        time.Time     `json:"archived_at"`
}

// ChainTransaction is the ephemeral record of one submitted chain transaction,
// owned by the settlement poller for the duration of a single submission and
// discarded once the corresponding request is archived.
type ChainTransaction struct {
	Hash              string `json:"hash"`
	Recipient         string `json:"recipient"`
	SubmittedAtHeight int64  `json:"submitted_at_height"`
	ConfirmedAtHeight int64  `json:"confirmed_at_height"`
}

// Reply target kinds. "reply" edits/answers the originating message or
// comment; "message" composes a new direct message with a subject line.
const (
	ReplyKindReply   = "reply"
	ReplyKindMessage = "message"
)

// ReplyTarget encodes which chat surface and which original message or thread
// a settlement result should be delivered to. It is opaque to the settlement
// core and carried verbatim from command intake to notification.
type ReplyTarget struct {
	Platform  string `json:"platform"`
	Kind      string `json:"kind"`
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
}
