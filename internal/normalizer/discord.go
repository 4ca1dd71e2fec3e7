/**
 * @description
 * Discord grammar: bang-commands in channel messages. Tips address a mention
 * token, withdrawals name an external address and move the entire balance,
 * rain splits one amount across several mentioned users.
 *
 *	!tip @user 3
 *	!withdraw NQ52 BCNT 9X0Y GX7N T86X 7ELG 9GQH U5N8 27FE
 *	!rain 10 @alice @bob @carol
 *	!balance / !deposit / !help / !commands
 */

package normalizer

import (
	"regexp"
	"strings"

	"github.com/nimtipbot/settlement-service/internal/domain"
)

var discordMentionPattern = regexp.MustCompile(`^<@!?([0-9]+)>$`)

// Discord normalizes discord bot commands.
type Discord struct {
	dust domain.Luna
}

// NewDiscord returns a discord normalizer with the given dust threshold.
func NewDiscord(dust domain.Luna) *Discord {
	return &Discord{dust: dust}
}

// Platform identifies the chat surface this normalizer serves.
func (d *Discord) Platform() string { return domain.PlatformDiscord }

// Normalize parses one discord message into a command draft.
func (d *Discord) Normalize(in Input) (*Draft, error) {
	fields := strings.Fields(strings.TrimSpace(in.RawText))
	if len(fields) == 0 {
		return nil, Invalid("empty command")
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "!help", "!commands":
		return &Draft{Action: ActionHelp}, nil
	case "!balance":
		return &Draft{Action: ActionBalance}, nil
	case "!deposit":
		return &Draft{Action: ActionDeposit}, nil
	case "!tip":
		return d.normalizeTip(args)
	case "!withdraw":
		return d.normalizeWithdraw(args)
	case "!rain":
		return d.normalizeRain(args)
	default:
		return nil, Invalid("unknown command %s, try !help", command)
	}
}

func (d *Discord) normalizeTip(args []string) (*Draft, error) {
	if len(args) != 2 {
		return nil, Invalid("wrong format for !tip, use: !tip @user [NIM amount], e.g. !tip @cino 3")
	}
	mention := discordMentionPattern.FindStringSubmatch(args[0])
	if mention == nil {
		return nil, Invalid("didn't detect a valid discord user to tip, select the user with @name")
	}
	amount, err := domain.ParseAmount(args[1], d.dust)
	if err != nil {
		return nil, Invalid("please input a valid NIM amount, e.g. 3 or 0.0008 (%v)", err)
	}
	return &Draft{
		Action:                ActionTip,
		Amount:                amount,
		DestinationIdentities: []string{mention[1]},
	}, nil
}

func (d *Discord) normalizeWithdraw(args []string) (*Draft, error) {
	if len(args) == 0 {
		return nil, Invalid("wrong format for !withdraw, use: !withdraw [NIM address]")
	}
	address, err := ValidateAddress(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	// The discord withdraw command always moves the whole balance; the
	// service resolves the actual amount at intake time.
	return &Draft{
		Action:             ActionWithdraw,
		FullBalance:        true,
		DestinationAddress: address,
	}, nil
}

func (d *Discord) normalizeRain(args []string) (*Draft, error) {
	if len(args) < 2 {
		return nil, Invalid("wrong format for !rain, use: !rain [NIM amount] @user1 @user2 ...")
	}
	amount, err := domain.ParseAmount(args[0], d.dust)
	if err != nil {
		return nil, Invalid("please input a valid NIM amount to rain (%v)", err)
	}
	identities := make([]string, 0, len(args)-1)
	seen := make(map[string]bool, len(args)-1)
	for _, arg := range args[1:] {
		mention := discordMentionPattern.FindStringSubmatch(arg)
		if mention == nil {
			return nil, Invalid("%s is not a valid discord user mention", arg)
		}
		// Duplicate recipients would produce identical transactions whose
		// shares collapse into one on chain; each user gets one mention.
		if seen[mention[1]] {
			return nil, Invalid("you mentioned %s more than once, each user can only be rained on once per command", arg)
		}
		seen[mention[1]] = true
		identities = append(identities, mention[1])
	}
	return &Draft{
		Action:                ActionRain,
		Amount:                amount,
		DestinationIdentities: identities,
	}, nil
}
