/**
 * @description
 * This file contains the command intake service: the bridge between the chat
 * front-ends and the durable ledger. A raw command is rate-limited,
 * normalized by the platform's grammar, resolved against the account
 * directory, checked for balance sufficiency, and inserted into the ledger
 * under its idempotency key. Duplicate commands are silently absorbed; no
 * ledger state is mutated for invalid input.
 *
 * @dependencies
 * - internal/normalizer: Platform command grammars.
 * - internal/store: The ledger repository.
 * - internal/domain: Models and amount math.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/normalizer"
	"github.com/nimtipbot/settlement-service/internal/store"
)

// ErrUnsupportedPlatform is returned when no normalizer is registered for the
// requested chat platform.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// RateLimiter counts commands per identity within a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error)
}

// CommandResult is what the front-end should tell the user right away.
// Message is empty for silently-absorbed duplicates. RequestID is set when a
// transfer was queued for settlement.
type CommandResult struct {
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Queued    bool   `json:"queued"`
}

// Service is the command intake service.
type Service struct {
	repo        store.Repository
	directory   *Directory
	gateway     ChainGateway
	normalizers map[string]normalizer.Normalizer
	network     string

	rateLimiter      RateLimiter
	commandRateLimit int
	commandRateWin   time.Duration
}

// NewService creates the command intake service. Normalizers are selected by
// their Platform() name.
func NewService(repo store.Repository, directory *Directory, gateway ChainGateway, network string, normalizers ...normalizer.Normalizer) *Service {
	byPlatform := make(map[string]normalizer.Normalizer, len(normalizers))
	for _, n := range normalizers {
		byPlatform[n.Platform()] = n
	}
	return &Service{
		repo:        repo,
		directory:   directory,
		gateway:     gateway,
		normalizers: byPlatform,
		network:     network,
	}
}

// SetRateLimiter enables per-identity command rate limiting.
func (s *Service) SetRateLimiter(limiter RateLimiter, limit int, window time.Duration) {
	s.rateLimiter = limiter
	s.commandRateLimit = limit
	s.commandRateWin = window
}

// HandleCommand processes one raw chat command end to end and returns the
// immediate reply for the user. Settlement itself happens later, on the
// poller's schedule.
func (s *Service) HandleCommand(ctx context.Context, platform string, in normalizer.Input) (*CommandResult, error) {
	norm, ok := s.normalizers[platform]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedPlatform, platform)
	}

	if s.rateLimiter != nil && s.commandRateLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "cmd:"+platform, in.SourceIdentity, s.commandRateLimit, s.commandRateWin)
		if err != nil {
			log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing command\" err=%v", err)
		} else if count > s.commandRateLimit {
			return &CommandResult{Message: fmt.Sprintf("You are sending commands too quickly, try again in %d seconds.", retryAfter)}, nil
		}
	}

	draft, err := norm.Normalize(in)
	if err != nil {
		var verr *normalizer.ValidationError
		if errors.As(err, &verr) {
			return &CommandResult{Message: verr.Message}, nil
		}
		return nil, err
	}

	switch draft.Action {
	case normalizer.ActionHelp:
		return &CommandResult{Message: s.helpMessage(platform)}, nil
	case normalizer.ActionBalance, normalizer.ActionDeposit:
		return s.balanceReply(ctx, in.SourceIdentity)
	case normalizer.ActionTip, normalizer.ActionWithdraw, normalizer.ActionRain:
		return s.queueTransfer(ctx, in, draft)
	default:
		return nil, fmt.Errorf("unhandled action %q", draft.Action)
	}
}

func (s *Service) balanceReply(ctx context.Context, externalID string) (*CommandResult, error) {
	account, err := s.directory.GetOrCreate(ctx, externalID)
	if err != nil {
		return nil, err
	}
	balance := s.directory.BalanceOf(ctx, account)
	message := fmt.Sprintf(`Your NIM address is: %s

Your current balance is %s

You can deposit by visiting %s

Disclaimer: Please only deposit NIM that you are willing to lose to this address as there are no guarantees to this free service`,
		account.ChainAddress, domain.FormatNIM(balance), DepositLink(account.ChainAddress, s.network))
	return &CommandResult{Message: message}, nil
}

// queueTransfer turns a validated draft into a ledger record. The balance
// sufficiency check here reads the chain directly and treats a read failure
// as a hard failure: no spend is ever authorized against an unknown balance.
func (s *Service) queueTransfer(ctx context.Context, in normalizer.Input, draft *normalizer.Draft) (*CommandResult, error) {
	source, err := s.directory.GetOrCreate(ctx, in.SourceIdentity)
	if err != nil {
		return nil, err
	}

	sourceBalance, err := s.gateway.BalanceOf(ctx, source.ChainAddress)
	if err != nil {
		return nil, fmt.Errorf("balance read for %s: %w", source.ChainAddress, err)
	}

	var (
		kind         string
		destinations []domain.Destination
		total        domain.Luna
	)

	switch draft.Action {
	case normalizer.ActionWithdraw:
		kind = domain.KindWithdraw
		amount := draft.Amount
		if draft.FullBalance {
			amount = sourceBalance
		}
		if amount <= 0 {
			return &CommandResult{Message: "Insufficient NIM in balance."}, nil
		}
		if strings.ReplaceAll(draft.DestinationAddress, " ", "") == strings.ReplaceAll(source.ChainAddress, " ", "") {
			return &CommandResult{Message: "You can't withdraw to your own tipping address."}, nil
		}
		destinations = []domain.Destination{{Address: draft.DestinationAddress, Amount: amount}}
		total = amount

	case normalizer.ActionTip:
		kind = domain.KindTip
		dest, err := s.directory.GetOrCreate(ctx, draft.DestinationIdentities[0])
		if err != nil {
			return nil, err
		}
		if dest.ChainAddress == source.ChainAddress {
			return &CommandResult{Message: "You can't tip to the same wallet address."}, nil
		}
		destinations = []domain.Destination{{Address: dest.ChainAddress, Amount: draft.Amount}}
		total = draft.Amount

	case normalizer.ActionRain:
		kind = domain.KindRain
		share, err := domain.SplitEvenly(draft.Amount, len(draft.DestinationIdentities))
		if err != nil {
			return &CommandResult{Message: fmt.Sprintf("Can't split that amount across %d users (%v).", len(draft.DestinationIdentities), err)}, nil
		}
		for _, identity := range draft.DestinationIdentities {
			dest, err := s.directory.GetOrCreate(ctx, identity)
			if err != nil {
				return nil, err
			}
			if dest.ChainAddress == source.ChainAddress {
				return &CommandResult{Message: "You can't rain on yourself."}, nil
			}
			destinations = append(destinations, domain.Destination{Address: dest.ChainAddress, Amount: share})
		}
		// The floored remainder stays with the sender's balance untouched on
		// chain but is not redistributed or refunded as part of the request.
		total = share * domain.Luna(len(destinations))
	}

	if sourceBalance < total {
		return &CommandResult{Message: fmt.Sprintf("Insufficient balance, deposit more NIM first. Current balance: %s", domain.FormatNIM(sourceBalance))}, nil
	}

	req := &domain.TransferRequest{
		ID:               in.IdempotencyKey,
		SourceExternalID: source.ExternalID,
		SourceAddress:    source.ChainAddress,
		Destinations:     destinations,
		TotalAmount:      total,
		Status:           domain.StatusNew,
		Kind:             kind,
		ReplyTarget:      in.ReplyTarget,
	}
	inserted, err := s.repo.InsertTransferIfAbsent(ctx, req)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Already seen this message id; the duplicate is absorbed silently.
		log.Printf("level=info component=service msg=\"duplicate command absorbed\" request_id=%s", req.ID)
		return &CommandResult{}, nil
	}

	log.Printf("level=info component=service msg=\"transfer queued\" request_id=%s kind=%s total=%d destinations=%d", req.ID, kind, int64(total), len(destinations))
	return &CommandResult{
		Message:   s.ackMessage(kind, total, destinations),
		RequestID: req.ID,
		Queued:    true,
	}, nil
}

func (s *Service) ackMessage(kind string, total domain.Luna, destinations []domain.Destination) string {
	switch kind {
	case domain.KindWithdraw:
		return fmt.Sprintf("Processing your withdrawal of %s to %s", domain.FormatNIM(total), destinations[0].Address)
	case domain.KindRain:
		return fmt.Sprintf("Processing rain of %s across %d users (%s each).", domain.FormatNIM(total), len(destinations), domain.FormatNIM(destinations[0].Amount))
	default:
		return fmt.Sprintf("Processing tip of %s.", domain.FormatNIM(total))
	}
}

func (s *Service) helpMessage(platform string) string {
	if platform == domain.PlatformDiscord {
		return `Commands:
!tip @discord_user [tip amount] - Sends NIM to a discord user.
e.g. !tip @cino 3

!rain [total amount] @user1 @user2 ... - Splits NIM evenly across several users.

!balance - Checks your current NIM balance

!withdraw [NIM address] - Withdraw your entire NIM balance to the NIM address you specify.
e.g. !withdraw NQ52 BCNT 9X0Y GX7N T86X 7ELG 9GQH U5N8 27FE

!deposit - Gives instructions on how to deposit`
	}
	return `The tip bot lets reddit users send NIM to each other through comments. Commands (as the subject or body of a private message):

* 'Deposit' - Get your deposit address

* 'Withdraw' - Withdraw NIM from your tipping account; include the address and amount in the message body

* 'Balance' - Check the amount of NIM you have stored in the bot

* 'Help' - This message

Once you have NIM in your tipping account, reply to a comment with '+<amount> NIM' to tip its author, e.g. '+25 NIM'.`
}

// DepositLink renders the wallet deep link for depositing to an address.
func DepositLink(address, network string) string {
	safeURL := "https://safe.nimiq-testnet.com/"
	if network == "main" {
		safeURL = "https://safe.nimiq.com/"
	}
	return fmt.Sprintf("%s#_request/%s_", safeURL, strings.ReplaceAll(address, " ", "-"))
}
