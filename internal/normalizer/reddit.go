/**
 * @description
 * Reddit grammar. Tips arrive as comment replies of the form "+<amount> NIM";
 * the front-end resolves who is being tipped (the parent comment's author)
 * and passes it as the target identity. Everything else arrives as a private
 * message whose subject names the command: Deposit, Balance, Help, or a
 * Withdraw message whose three-line body carries the amount and address.
 */

package normalizer

import (
	"regexp"
	"strings"

	"github.com/nimtipbot/settlement-service/internal/domain"
)

var (
	redditTipPattern     = regexp.MustCompile(`\+([0-9]+\.?[0-9]{0,6}) NIM`)
	redditAmountPattern  = regexp.MustCompile(`[0-9]+\.?[0-9]{0,6}`)
	redditAddressPattern = regexp.MustCompile(`NQ[A-Z0-9 ]*$`)
)

// Reddit normalizes reddit comments and private messages.
type Reddit struct {
	dust domain.Luna
}

// NewReddit returns a reddit normalizer with the given dust threshold.
func NewReddit(dust domain.Luna) *Reddit {
	return &Reddit{dust: dust}
}

// Platform identifies the chat surface this normalizer serves.
func (r *Reddit) Platform() string { return domain.PlatformReddit }

// Normalize parses one reddit comment or private message into a command
// draft. A non-empty subject marks the input as a private message.
func (r *Reddit) Normalize(in Input) (*Draft, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return r.normalizeCommentTip(in)
	}

	switch {
	case strings.EqualFold(subject, "Help"):
		return &Draft{Action: ActionHelp}, nil
	case strings.EqualFold(subject, "Balance"):
		return &Draft{Action: ActionBalance}, nil
	case strings.EqualFold(subject, "Deposit"):
		return &Draft{Action: ActionDeposit}, nil
	case strings.EqualFold(subject, "Withdraw"):
		return r.normalizeWithdraw(in.RawText)
	default:
		return nil, Invalid("unknown command %q, send a message with subject Help for the command list", subject)
	}
}

func (r *Reddit) normalizeCommentTip(in Input) (*Draft, error) {
	match := redditTipPattern.FindStringSubmatch(in.RawText)
	if match == nil {
		return nil, Invalid("no tip found, reply with +<amount> NIM, e.g. +25 NIM")
	}
	amount, err := domain.ParseAmount(match[1], r.dust)
	if err != nil {
		return nil, Invalid("couldn't read the tip amount (%v)", err)
	}
	target := strings.TrimSpace(in.TargetIdentity)
	if target == "" {
		return nil, Invalid("couldn't work out who you are tipping")
	}
	return &Draft{
		Action:                ActionTip,
		Amount:                amount,
		DestinationIdentities: []string{target},
	}, nil
}

// normalizeWithdraw parses the original three-line withdrawal message: an
// intro line, the amount line and the address line.
func (r *Reddit) normalizeWithdraw(body string) (*Draft, error) {
	chunks := strings.Split(body, "\n")
	if len(chunks) != 3 {
		return nil, Invalid("encountered a problem reading either the withdrawal amount or the NIM address, keep the 3-line format of the withdrawal message")
	}

	amountMatch := redditAmountPattern.FindString(chunks[1])
	if amountMatch == "" {
		return nil, Invalid("encountered a problem reading the withdrawal amount, make sure it is a valid NIM amount")
	}
	amount, err := domain.ParseAmount(amountMatch, r.dust)
	if err != nil {
		return nil, Invalid("encountered a problem reading the withdrawal amount (%v)", err)
	}

	addressMatch := redditAddressPattern.FindString(strings.TrimSpace(chunks[2]))
	if addressMatch == "" {
		return nil, Invalid("encountered a problem reading the NIM withdrawal address")
	}
	address, err := ValidateAddress(addressMatch)
	if err != nil {
		return nil, Invalid("encountered a problem reading the NIM withdrawal address")
	}

	return &Draft{
		Action:             ActionWithdraw,
		Amount:             amount,
		DestinationAddress: address,
	}, nil
}
