package normalizer

import (
	"errors"
	"testing"

	"github.com/nimtipbot/settlement-service/internal/domain"
)

func TestRedditNormalizeCommentTip(t *testing.T) {
	n := NewReddit(1)

	draft, err := n.Normalize(Input{
		RawText:        "wow great post! +25 NIM for you",
		TargetIdentity: "parent_author",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if draft.Action != ActionTip {
		t.Fatalf("expected tip action, got %s", draft.Action)
	}
	if draft.Amount != 25*domain.LunaPerNIM {
		t.Fatalf("expected 25 NIM, got %d luna", draft.Amount)
	}
	if len(draft.DestinationIdentities) != 1 || draft.DestinationIdentities[0] != "parent_author" {
		t.Fatalf("expected parent_author destination, got %v", draft.DestinationIdentities)
	}
}

func TestRedditNormalizeCommentTipFractional(t *testing.T) {
	n := NewReddit(1)

	draft, err := n.Normalize(Input{RawText: "+30.2 NIM", TargetIdentity: "op"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if draft.Amount != 3_020_000 {
		t.Fatalf("expected 30.2 NIM, got %d luna", draft.Amount)
	}
}

func TestRedditNormalizeCommentTipRejections(t *testing.T) {
	n := NewReddit(1)

	tests := []struct {
		name   string
		input  Input
	}{
		{"no tip marker", Input{RawText: "nice post", TargetIdentity: "op"}},
		{"missing target identity", Input{RawText: "+25 NIM"}},
		{"zero amount", Input{RawText: "+0 NIM", TargetIdentity: "op"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRedditNormalizeWithdrawMessage(t *testing.T) {
	n := NewReddit(1)

	body := "I want to withdraw my NIM!\n12.5 NIM\n" + testAddress
	draft, err := n.Normalize(Input{Subject: "Withdraw", RawText: body})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if draft.Action != ActionWithdraw {
		t.Fatalf("expected withdraw action, got %s", draft.Action)
	}
	if draft.Amount != 1_250_000 {
		t.Fatalf("expected 12.5 NIM, got %d luna", draft.Amount)
	}
	if draft.DestinationAddress != testAddress {
		t.Fatalf("expected %q, got %q", testAddress, draft.DestinationAddress)
	}
}

func TestRedditNormalizeWithdrawMessageRejections(t *testing.T) {
	n := NewReddit(1)

	tests := []struct {
		name string
		body string
	}{
		{"wrong line count", "just one line"},
		{"missing amount", "intro\nno amount here at all\n" + testAddress},
		{"missing address", "intro\n12.5 NIM\nno address"},
		{"bad address", "intro\n12.5 NIM\nNQ52 TOO SHORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := n.Normalize(Input{Subject: "Withdraw", RawText: tt.body}); err == nil {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestRedditNormalizeSubjectCommands(t *testing.T) {
	n := NewReddit(1)

	tests := []struct {
		subject string
		action  Action
	}{
		{"Help", ActionHelp},
		{"Balance", ActionBalance},
		{"Deposit", ActionDeposit},
		{"balance", ActionBalance},
	}
	for _, tt := range tests {
		draft, err := n.Normalize(Input{Subject: tt.subject, RawText: "anything"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.subject, err)
		}
		if draft.Action != tt.action {
			t.Fatalf("%s: expected %s, got %s", tt.subject, tt.action, draft.Action)
		}
	}

	if _, err := n.Normalize(Input{Subject: "Moon", RawText: "x"}); err == nil {
		t.Fatal("expected unknown subject to be rejected")
	}
}
