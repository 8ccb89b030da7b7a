package records

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *CSVStore {
	t.Helper()
	loc, err := time.LoadLocation("America/El_Salvador")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s, err := NewCSVStore(t.TempDir(), loc)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	return s
}

func linkAt(userID int64, ref string, at time.Time) PaymentLinkRecord {
	return PaymentLinkRecord{
		CreatedAt:  at,
		UserID:     userID,
		ChatID:     userID,
		Username:   "tester",
		Reference:  ref,
		LinkID:     "77001",
		PayableURL: "https://pay.example/77001",
		AmountUSD:  decimal.RequireFromString("30.00"),
		Plan:       "mensual",
		Status:     "creado",
	}
}

func TestCSVStore_CreatesTablesWithHeaders(t *testing.T) {
	loc := time.UTC
	dir := t.TempDir()
	if _, err := NewCSVStore(dir, loc); err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}

	for file, want := range map[string]string{
		"links.csv":        "timestamp_utc,user_id,chat_id,username,referencia,idEnlace,urlEnlace,monto_usd,plan,estado",
		"validaciones.csv": "timestamp_utc,user_id,referencia,idEnlace,resultado,detalle",
		"subs.csv":         "user_id,tipo,expiracion_utc,estado",
		"referidos.csv":    "timestamp_utc,user_id,codigo,creador,descuento",
		"telefonos.csv":    "timestamp_utc,user_id,chat_id,username,phone",
	} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if got := strings.SplitN(string(data), "\n", 2)[0]; strings.TrimRight(got, "\r") != want {
			t.Errorf("%s header = %q, want %q", file, got, want)
		}
	}
}

func TestCSVStore_AppendAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.AppendLink(ctx, linkAt(7, "tg_7_1700000000", now)); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}

	links, err := s.TodaysLinks(ctx, 7)
	if err != nil {
		t.Fatalf("TodaysLinks: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	got := links[0]
	if got.Reference != "tg_7_1700000000" || got.LinkID != "77001" {
		t.Errorf("read back %+v", got)
	}
	if got.AmountUSD.StringFixed(2) != "30.00" {
		t.Errorf("AmountUSD = %s, want 30.00", got.AmountUSD)
	}
	if got.Plan != "mensual" {
		t.Errorf("Plan = %q, want mensual", got.Plan)
	}
}

func TestCSVStore_TodaysLinksFiltersUserAndDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.AppendLink(ctx, linkAt(7, "tg_7_a", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}
	if err := s.AppendLink(ctx, linkAt(8, "tg_8_a", now)); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}
	if err := s.AppendLink(ctx, linkAt(7, "tg_7_b", now)); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}
	if err := s.AppendLink(ctx, linkAt(7, "tg_7_c", now)); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}

	links, err := s.TodaysLinks(ctx, 7)
	if err != nil {
		t.Fatalf("TodaysLinks: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	// insertion order preserved
	if links[0].Reference != "tg_7_b" || links[1].Reference != "tg_7_c" {
		t.Errorf("order = %s, %s", links[0].Reference, links[1].Reference)
	}
}

// A record stamped late in the UTC evening belongs to the next UTC date but to
// the current civil date in El Salvador (UTC-6). The lookup must follow the
// business timezone, not the raw UTC date.
func TestCSVStore_TodaysLinksUsesLocalCalendar(t *testing.T) {
	loc, err := time.LoadLocation("America/El_Salvador")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s, err := NewCSVStore(t.TempDir(), loc)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	ctx := context.Background()

	// "now" is 23:00 local = 05:00 UTC next day.
	localNow := time.Date(2025, 3, 10, 23, 0, 0, 0, loc)
	s.now = func() time.Time { return localNow }

	// 23:59 UTC on March 10 = 17:59 local March 10: same local day, earlier UTC day.
	sameLocalDayLink := linkAt(7, "tg_7_local_today", time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC))
	// 04:00 UTC on March 10 = 22:00 local March 9: same-ish UTC day, previous local day.
	prevLocalDayLink := linkAt(7, "tg_7_local_yesterday", time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC))

	if err := s.AppendLink(ctx, prevLocalDayLink); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}
	if err := s.AppendLink(ctx, sameLocalDayLink); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}

	links, err := s.TodaysLinks(ctx, 7)
	if err != nil {
		t.Fatalf("TodaysLinks: %v", err)
	}
	if len(links) != 1 || links[0].Reference != "tg_7_local_today" {
		t.Fatalf("links = %+v, want only tg_7_local_today", links)
	}
}

func TestCSVStore_AppendOtherKinds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.AppendValidation(ctx, ValidationAttemptRecord{
		At: now, UserID: 7, Reference: "tg_7_1", LinkID: "77001", Outcome: "pendiente", Detail: `{"estado":"pendiente"}`,
	}); err != nil {
		t.Fatalf("AppendValidation: %v", err)
	}
	if err := s.AppendSubscription(ctx, SubscriptionRecord{
		UserID: 7, Plan: "mensual", ExpiresAt: now.Add(30 * 24 * time.Hour), Status: "activa",
	}); err != nil {
		t.Fatalf("AppendSubscription: %v", err)
	}
	if err := s.AppendDiscountUsage(ctx, DiscountUsageRecord{
		At: now, UserID: 7, Code: "BRYAN22", Owner: "bryan", Percent: 10,
	}); err != nil {
		t.Fatalf("AppendDiscountUsage: %v", err)
	}
	if err := s.AppendPhone(ctx, PhoneRecord{
		At: now, UserID: 7, ChatID: 7, Username: "tester", Phone: "+50370000000",
	}); err != nil {
		t.Fatalf("AppendPhone: %v", err)
	}

	for file, fragment := range map[string]string{
		"validaciones.csv": "pendiente",
		"subs.csv":         "activa",
		"referidos.csv":    "BRYAN22",
		"telefonos.csv":    "+50370000000",
	} {
		data, err := os.ReadFile(filepath.Join(s.dir, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if !strings.Contains(string(data), fragment) {
			t.Errorf("%s missing %q:\n%s", file, fragment, data)
		}
	}
}

func TestCSVStore_ReopenKeepsRows(t *testing.T) {
	loc := time.UTC
	dir := t.TempDir()
	s, err := NewCSVStore(dir, loc)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	ctx := context.Background()
	if err := s.AppendLink(ctx, linkAt(7, "tg_7_persist", time.Now().UTC())); err != nil {
		t.Fatalf("AppendLink: %v", err)
	}

	reopened, err := NewCSVStore(dir, loc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	links, err := reopened.TodaysLinks(ctx, 7)
	if err != nil {
		t.Fatalf("TodaysLinks: %v", err)
	}
	if len(links) != 1 || links[0].Reference != "tg_7_persist" {
		t.Fatalf("links after reopen = %+v", links)
	}
}
