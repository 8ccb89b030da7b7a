package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubpicks/subsbot/internal/reconcile"
	"github.com/clubpicks/subsbot/internal/records"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bryan22", "BRYAN22"},
		{"  BRYAN22  ", "BRYAN22"},
		{"NO", ""},
		{"no", ""},
		{" no ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeCode(tt.in); got != tt.want {
			t.Errorf("normalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPurchaseMessage(t *testing.T) {
	link := records.PaymentLinkRecord{
		Reference:  "tg_42_1715349600",
		PayableURL: "https://pay.example/900123",
		AmountUSD:  decimal.RequireFromString("27.00"),
	}

	t.Run("with discount", func(t *testing.T) {
		got := purchaseMessage(reconcile.PurchaseResult{
			Link:     link,
			Discount: &reconcile.AppliedDiscount{Code: "BRYAN22", Percent: 10},
		})
		for _, want := range []string{"BRYAN22", "10% de descuento", "$27.00", "https://pay.example/900123", "tg_42_1715349600"} {
			if !strings.Contains(got, want) {
				t.Errorf("message missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("invalid code", func(t *testing.T) {
		full := link
		full.AmountUSD = decimal.RequireFromString("30.00")
		got := purchaseMessage(reconcile.PurchaseResult{Link: full, InvalidCode: "NOPE"})
		if !strings.Contains(got, "NOPE no válido") {
			t.Errorf("missing invalid-code warning:\n%s", got)
		}
		if !strings.Contains(got, "$30.00") {
			t.Errorf("missing full price:\n%s", got)
		}
	})

	t.Run("plain", func(t *testing.T) {
		got := purchaseMessage(reconcile.PurchaseResult{Link: link})
		if strings.Contains(got, "Código") {
			t.Errorf("unexpected discount text:\n%s", got)
		}
	})
}

func TestValidationMessage(t *testing.T) {
	loc, err := time.LoadLocation("America/El_Salvador")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	t.Run("approved shows local expiry and invite", func(t *testing.T) {
		expiry := time.Date(2024, 6, 9, 20, 0, 0, 0, time.UTC) // 14:00 local
		got := validationMessage(reconcile.ValidationResult{
			Outcome:   reconcile.OutcomeApproved,
			Expiry:    expiry,
			InviteURL: "https://t.me/+abc",
		}, loc)
		if !strings.Contains(got, "2024-06-09 14:00") {
			t.Errorf("expiry not rendered in business timezone:\n%s", got)
		}
		if !strings.Contains(got, "https://t.me/+abc") {
			t.Errorf("invite link missing:\n%s", got)
		}
	})

	t.Run("approved without invite points to support", func(t *testing.T) {
		got := validationMessage(reconcile.ValidationResult{
			Outcome: reconcile.OutcomeApproved,
			Expiry:  time.Now(),
		}, loc)
		if !strings.Contains(got, "soporte") {
			t.Errorf("missing support fallback:\n%s", got)
		}
	})

	t.Run("non-approved outcomes", func(t *testing.T) {
		tests := []struct {
			outcome reconcile.Outcome
			want    string
		}{
			{reconcile.OutcomePending, "pendiente"},
			{reconcile.OutcomeFailed, "rechazado"},
			{reconcile.OutcomeNoLinkToday, "/start"},
			{reconcile.OutcomeUnknown, "confirmar"},
		}
		for _, tt := range tests {
			got := validationMessage(reconcile.ValidationResult{Outcome: tt.outcome}, loc)
			if !strings.Contains(got, tt.want) {
				t.Errorf("outcome %q: message missing %q:\n%s", tt.outcome, tt.want, got)
			}
		}
	})
}

func TestSessionStore(t *testing.T) {
	store := newSessionStore()

	sess := store.get(42)
	if sess.Stage != stageNone || sess.Plan != "" {
		t.Fatalf("fresh session = %+v", sess)
	}

	sess.Plan = "mensual"
	sess.Stage = stageAwaitingCode
	if again := store.get(42); again.Plan != "mensual" || again.Stage != stageAwaitingCode {
		t.Errorf("session not persisted: %+v", again)
	}

	if other := store.get(99); other.Plan != "" {
		t.Errorf("sessions leaked across users: %+v", other)
	}

	store.reset(42)
	if fresh := store.get(42); fresh.Plan != "" || fresh.Stage != stageNone {
		t.Errorf("reset did not clear session: %+v", fresh)
	}
}
