/**
 * @description
 * This package turns raw chat commands into canonical transfer drafts. Each
 * chat surface has its own grammar (discord bang-commands, reddit comment tips
 * and subject-line private messages) but every variant honors one contract:
 * given the raw text and the originating identity, produce either a
 * ValidationError (free of side effects) or a fully-populated draft whose
 * balances have not yet been checked.
 *
 * @dependencies
 * - internal/domain: Amount parsing and reply-target models.
 */

package normalizer

import (
	"fmt"
	"strings"

	"github.com/nimtipbot/settlement-service/internal/domain"
)

// Action is what a normalized command asks the service to do.
type Action string

const (
	ActionHelp     Action = "help"
	ActionBalance  Action = "balance"
	ActionDeposit  Action = "deposit"
	ActionTip      Action = "tip"
	ActionWithdraw Action = "withdraw"
	ActionRain     Action = "rain"
)

// Input is the platform-independent shape of one raw chat command.
// TargetIdentity is the identity the surrounding conversation resolves the
// command against (e.g. the parent comment's author for a reddit reply tip);
// it is supplied by the front-end, not parsed from the text.
type Input struct {
	RawText        string
	Subject        string
	SourceIdentity string
	TargetIdentity string
	IdempotencyKey string
	ReplyTarget    domain.ReplyTarget
}

// Draft is a validated command that has not yet touched any durable state.
// Amount is zero when FullBalance is set (withdraw-everything).
type Draft struct {
	Action                Action
	Amount                domain.Luna
	FullBalance           bool
	DestinationAddress    string
	DestinationIdentities []string
}

// ValidationError is a user mistake in the command text. It carries the
// message sent back to the user verbatim and never mutates durable state.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Normalizer is the shared contract implemented once per chat surface.
type Normalizer interface {
	Platform() string
	Normalize(in Input) (*Draft, error)
}

// addressStrippedLength is the length of a friendly chain address with the
// group spaces removed ("NQ" prefix, two check digits, 32 value characters).
const addressStrippedLength = 36

// ValidateAddress checks a user-supplied destination against the chain's
// friendly address format and returns it trimmed.
func ValidateAddress(raw string) (string, error) {
	address := strings.TrimSpace(raw)
	if !strings.HasPrefix(address, "NQ") {
		return "", Invalid("that does not look like a NIM address (must start with NQ)")
	}
	stripped := strings.ReplaceAll(address, " ", "")
	if len(stripped) != addressStrippedLength {
		return "", Invalid("that does not look like a NIM address (wrong length)")
	}
	for _, c := range stripped {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", Invalid("that does not look like a NIM address (invalid characters)")
		}
	}
	return address, nil
}
