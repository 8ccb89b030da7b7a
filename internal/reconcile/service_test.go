package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubpicks/subsbot/internal/config"
	boterrors "github.com/clubpicks/subsbot/internal/errors"
	"github.com/clubpicks/subsbot/internal/records"
	"github.com/clubpicks/subsbot/internal/wompi"
)

type fakeStore struct {
	links       []records.PaymentLinkRecord
	validations []records.ValidationAttemptRecord
	subs        []records.SubscriptionRecord
	discounts   []records.DiscountUsageRecord
	phones      []records.PhoneRecord

	todays    []records.PaymentLinkRecord
	todaysErr error
}

func (f *fakeStore) AppendLink(_ context.Context, rec records.PaymentLinkRecord) error {
	f.links = append(f.links, rec)
	return nil
}

func (f *fakeStore) AppendValidation(_ context.Context, rec records.ValidationAttemptRecord) error {
	f.validations = append(f.validations, rec)
	return nil
}

func (f *fakeStore) AppendSubscription(_ context.Context, rec records.SubscriptionRecord) error {
	f.subs = append(f.subs, rec)
	return nil
}

func (f *fakeStore) AppendDiscountUsage(_ context.Context, rec records.DiscountUsageRecord) error {
	f.discounts = append(f.discounts, rec)
	return nil
}

func (f *fakeStore) AppendPhone(_ context.Context, rec records.PhoneRecord) error {
	f.phones = append(f.phones, rec)
	return nil
}

func (f *fakeStore) TodaysLinks(_ context.Context, _ int64) ([]records.PaymentLinkRecord, error) {
	return f.todays, f.todaysErr
}

func (f *fakeStore) Close() error { return nil }

type fakeGateway struct {
	createCalls  int
	detailCalls  int
	lastRef      string
	lastAmount   decimal.Decimal
	lastProduct  string
	createErr    error
	detailErr    error
	linkID       string
	linkURL      string
	detailPayload map[string]any
}

func (f *fakeGateway) CreatePaymentLink(_ context.Context, reference string, amount decimal.Decimal, productName string) (wompi.PaymentLink, error) {
	f.createCalls++
	f.lastRef = reference
	f.lastAmount = amount
	f.lastProduct = productName
	if f.createErr != nil {
		return wompi.PaymentLink{}, f.createErr
	}
	return wompi.PaymentLink{ID: f.linkID, URL: f.linkURL}, nil
}

func (f *fakeGateway) GetLinkDetail(_ context.Context, _ string) (map[string]any, error) {
	f.detailCalls++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detailPayload, nil
}

type fakeScheduler struct {
	armed  []time.Time
	active time.Time
	hasActive bool
}

func (f *fakeScheduler) ArmExpiry(_ int64, expiry time.Time) {
	f.armed = append(f.armed, expiry)
}

func (f *fakeScheduler) ActiveExpiry(_ int64) (time.Time, bool) {
	return f.active, f.hasActive
}

type fakeMembership struct {
	restored    int
	invites     int
	restoreErr  error
	inviteErr   error
	inviteURL   string
	inviteExpiry time.Time
}

func (f *fakeMembership) RestoreMembership(_ context.Context, _ int64) error {
	f.restored++
	return f.restoreErr
}

func (f *fakeMembership) CreateSingleUseInviteLink(_ context.Context, expiry time.Time) (string, error) {
	f.invites++
	f.inviteExpiry = expiry
	if f.inviteErr != nil {
		return "", f.inviteErr
	}
	return f.inviteURL, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Plans: []config.PlanConfig{
			{Kind: "mensual", Name: "Suscripción completa (30 días)", Days: 30, Enabled: true,
				AcceptsDiscounts: true, Amount: decimal.RequireFromString("30.00")},
			{Kind: "promo", Name: "Promo de acceso (2 días)", Days: 2, Enabled: true,
				Amount: decimal.RequireFromString("10.00")},
			{Kind: "anual", Name: "Anual", Days: 365, Enabled: false,
				Amount: decimal.RequireFromString("250.00")},
		},
		Discounts: []config.DiscountCode{
			{Code: "BRYAN22", Fraction: 0.10, Owner: "bryan", Enabled: true},
			{Code: "OLDCODE", Fraction: 0.50, Owner: "old", Enabled: false},
		},
		Subscription: config.SubscriptionConfig{
			RenewalPolicy: config.RenewalExtend,
			ReminderLead:  config.Duration{Duration: 12 * time.Hour},
			InviteTTL:     config.Duration{Duration: time.Hour},
		},
	}
}

func newTestService(store *fakeStore, gw *fakeGateway, sched *fakeScheduler, mem *fakeMembership) *Service {
	s := NewService(testConfig(), store, gw, sched, mem, nil)
	base := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	return s
}

func TestInitiatePurchase_FullPrice(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{linkID: "900123", linkURL: "https://pay.example/900123"}
	s := newTestService(store, gw, &fakeScheduler{}, &fakeMembership{})

	res, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "mensual", "")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if !gw.lastAmount.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("amount = %s, want 30.00", gw.lastAmount)
	}
	if res.Discount != nil {
		t.Errorf("unexpected discount: %+v", res.Discount)
	}
	if len(store.links) != 1 {
		t.Fatalf("links appended = %d, want 1", len(store.links))
	}
	link := store.links[0]
	if link.LinkID != "900123" || link.PayableURL != "https://pay.example/900123" {
		t.Errorf("stored link = %+v", link)
	}
	if link.Status != "creado" || link.Plan != "mensual" {
		t.Errorf("stored link status/plan = %q/%q", link.Status, link.Plan)
	}
	if link.Reference != gw.lastRef {
		t.Errorf("stored reference %q differs from gateway reference %q", link.Reference, gw.lastRef)
	}
}

func TestInitiatePurchase_DiscountApplied(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{linkID: "1", linkURL: "u"}
	s := newTestService(store, gw, &fakeScheduler{}, &fakeMembership{})

	res, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "mensual", "bryan22")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if !gw.lastAmount.Equal(decimal.RequireFromString("27.00")) {
		t.Errorf("discounted amount = %s, want 27.00", gw.lastAmount)
	}
	if res.Discount == nil || res.Discount.Code != "BRYAN22" || res.Discount.Percent != 10 {
		t.Errorf("discount = %+v", res.Discount)
	}
	if len(store.discounts) != 1 {
		t.Fatalf("discount usages = %d, want 1", len(store.discounts))
	}
	usage := store.discounts[0]
	if usage.Code != "BRYAN22" || usage.Owner != "bryan" || usage.Percent != 10 {
		t.Errorf("usage = %+v", usage)
	}
	if !store.links[0].AmountUSD.Equal(decimal.RequireFromString("27.00")) {
		t.Errorf("stored amount = %s, want 27.00", store.links[0].AmountUSD)
	}
}

func TestInitiatePurchase_ShortPlanIgnoresCode(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{linkID: "1", linkURL: "u"}
	s := newTestService(store, gw, &fakeScheduler{}, &fakeMembership{})

	res, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "promo", "BRYAN22")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if !gw.lastAmount.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("amount = %s, want full 10.00", gw.lastAmount)
	}
	if res.Discount != nil || res.InvalidCode != "" {
		t.Errorf("result = %+v, want silent full-price purchase", res)
	}
	if len(store.discounts) != 0 {
		t.Errorf("discount usages = %d, want 0", len(store.discounts))
	}
}

func TestInitiatePurchase_UnknownCodeFullPrice(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{linkID: "1", linkURL: "u"}
	s := newTestService(store, gw, &fakeScheduler{}, &fakeMembership{})

	res, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "mensual", "NOPE")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if !gw.lastAmount.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("amount = %s, want full 30.00", gw.lastAmount)
	}
	if res.InvalidCode != "NOPE" {
		t.Errorf("InvalidCode = %q, want NOPE", res.InvalidCode)
	}
	if len(store.discounts) != 0 {
		t.Errorf("discount usages = %d, want 0", len(store.discounts))
	}
}

func TestInitiatePurchase_DisabledCodeFullPrice(t *testing.T) {
	gw := &fakeGateway{linkID: "1", linkURL: "u"}
	s := newTestService(&fakeStore{}, gw, &fakeScheduler{}, &fakeMembership{})

	res, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "mensual", "OLDCODE")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if !gw.lastAmount.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("amount = %s, want full 30.00", gw.lastAmount)
	}
	if res.InvalidCode != "OLDCODE" {
		t.Errorf("InvalidCode = %q, disabled codes must look unknown", res.InvalidCode)
	}
}

func TestInitiatePurchase_PlanErrors(t *testing.T) {
	tests := []struct {
		name string
		kind string
	}{
		{"unknown plan", "vip"},
		{"disabled plan", "anual"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			s := newTestService(&fakeStore{}, gw, &fakeScheduler{}, &fakeMembership{})

			_, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", tt.kind, "")
			if boterrors.CodeOf(err) != boterrors.ErrCodePlanUnavailable {
				t.Errorf("code = %q, want plan_unavailable", boterrors.CodeOf(err))
			}
			if gw.createCalls != 0 {
				t.Errorf("gateway called %d times for unavailable plan", gw.createCalls)
			}
		})
	}
}

func TestInitiatePurchase_RejectPolicyBlocksActiveSubscriber(t *testing.T) {
	sched := &fakeScheduler{active: time.Now().Add(time.Hour), hasActive: true}
	gw := &fakeGateway{}
	s := newTestService(&fakeStore{}, gw, sched, &fakeMembership{})
	s.cfg.Subscription.RenewalPolicy = config.RenewalReject

	_, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "mensual", "")
	if boterrors.CodeOf(err) != boterrors.ErrCodeAlreadySubscribed {
		t.Errorf("code = %q, want already_subscribed", boterrors.CodeOf(err))
	}
	if gw.createCalls != 0 {
		t.Error("gateway must not be called when the purchase is rejected")
	}
}

func TestInitiatePurchase_GatewayFailureNotRecorded(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{createErr: boterrors.New(boterrors.ErrCodeGatewayRequest, "boom")}
	s := newTestService(store, gw, &fakeScheduler{}, &fakeMembership{})

	_, err := s.InitiatePurchase(context.Background(), 42, 42, "maria", "mensual", "")
	if boterrors.CodeOf(err) != boterrors.ErrCodeGatewayRequest {
		t.Errorf("code = %q, want gateway_request_error passthrough", boterrors.CodeOf(err))
	}
	if len(store.links) != 0 {
		t.Errorf("links appended = %d, want 0 on gateway failure", len(store.links))
	}
}

func TestReference_SameSecondCollisionAdvances(t *testing.T) {
	s := newTestService(&fakeStore{}, &fakeGateway{}, &fakeScheduler{}, &fakeMembership{})

	ref1 := s.reference(42)
	ref2 := s.reference(42)
	ref3 := s.reference(42)
	if ref1 == ref2 || ref2 == ref3 {
		t.Errorf("references collide: %q %q %q", ref1, ref2, ref3)
	}

	// A different user in the same second is unaffected.
	other := s.reference(99)
	want := "tg_99_" + ref1[len("tg_42_"):]
	if other != want {
		t.Errorf("other-user reference = %q, want %q", other, want)
	}
}

func TestTodaysLink_PicksLatest(t *testing.T) {
	base := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{todays: []records.PaymentLinkRecord{
		{Reference: "tg_42_1", CreatedAt: base},
		{Reference: "tg_42_3", CreatedAt: base.Add(2 * time.Hour)},
		{Reference: "tg_42_2", CreatedAt: base.Add(time.Hour)},
	}}
	s := newTestService(store, &fakeGateway{}, &fakeScheduler{}, &fakeMembership{})

	link, err := s.TodaysLink(context.Background(), 42)
	if err != nil {
		t.Fatalf("TodaysLink: %v", err)
	}
	if link.Reference != "tg_42_3" {
		t.Errorf("reference = %q, want the latest tg_42_3", link.Reference)
	}
}

func TestTodaysLink_TieGoesToLastAppended(t *testing.T) {
	at := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{todays: []records.PaymentLinkRecord{
		{Reference: "first", CreatedAt: at},
		{Reference: "second", CreatedAt: at},
	}}
	s := newTestService(store, &fakeGateway{}, &fakeScheduler{}, &fakeMembership{})

	link, err := s.TodaysLink(context.Background(), 42)
	if err != nil {
		t.Fatalf("TodaysLink: %v", err)
	}
	if link.Reference != "second" {
		t.Errorf("reference = %q, want second", link.Reference)
	}
}

func TestTodaysLink_NoneToday(t *testing.T) {
	s := newTestService(&fakeStore{}, &fakeGateway{}, &fakeScheduler{}, &fakeMembership{})

	_, err := s.TodaysLink(context.Background(), 42)
	if boterrors.CodeOf(err) != boterrors.ErrCodeNoLinkToday {
		t.Errorf("code = %q, want no_link_today", boterrors.CodeOf(err))
	}
}

func approvedPayload() map[string]any {
	return map[string]any{
		"idEnlace":    "500",
		"transaccion": map[string]any{"esAprobada": true, "estado": "aprobada"},
	}
}

func todaysLinkFixture() []records.PaymentLinkRecord {
	return []records.PaymentLinkRecord{{
		CreatedAt: time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC),
		UserID:    42,
		Reference: "tg_42_1715349600",
		LinkID:    "500",
		Plan:      "mensual",
	}}
}

func TestValidatePayment_Approved(t *testing.T) {
	store := &fakeStore{todays: todaysLinkFixture()}
	gw := &fakeGateway{detailPayload: approvedPayload()}
	sched := &fakeScheduler{}
	mem := &fakeMembership{inviteURL: "https://t.me/+abc"}
	s := newTestService(store, gw, sched, mem)

	res, err := s.ValidatePayment(context.Background(), 42)
	if err != nil {
		t.Fatalf("ValidatePayment: %v", err)
	}
	if res.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved", res.Outcome)
	}

	if len(store.subs) != 1 {
		t.Fatalf("subscriptions = %d, want exactly 1", len(store.subs))
	}
	sub := store.subs[0]
	wantExpiry := s.now().UTC().Add(30 * 24 * time.Hour)
	if !sub.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", sub.ExpiresAt, wantExpiry)
	}
	if sub.Plan != "mensual" || sub.Status != "activa" {
		t.Errorf("subscription = %+v", sub)
	}

	if len(sched.armed) != 1 || !sched.armed[0].Equal(wantExpiry) {
		t.Errorf("armed expiries = %v, want one at %v", sched.armed, wantExpiry)
	}
	if mem.restored != 1 {
		t.Errorf("membership restores = %d, want 1", mem.restored)
	}
	if res.InviteURL != "https://t.me/+abc" {
		t.Errorf("InviteURL = %q", res.InviteURL)
	}
	wantInviteExpiry := s.now().Add(time.Hour)
	if !mem.inviteExpiry.Equal(wantInviteExpiry) {
		t.Errorf("invite expiry = %v, want %v", mem.inviteExpiry, wantInviteExpiry)
	}

	if len(store.validations) != 1 {
		t.Fatalf("validations = %d, want 1", len(store.validations))
	}
	if store.validations[0].Outcome != string(wompi.OutcomeApproved) {
		t.Errorf("validation outcome = %q", store.validations[0].Outcome)
	}
	if store.validations[0].Detail == "" {
		t.Error("validation detail empty, want evidence snapshot")
	}
}

func TestValidatePayment_NonApprovedOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    Outcome
	}{
		{
			name:    "pending",
			payload: map[string]any{"transaccion": map[string]any{"estado": "pendiente"}},
			want:    OutcomePending,
		},
		{
			name:    "failed",
			payload: map[string]any{"ultimaTransaccion": map[string]any{"estado": "rechazada"}},
			want:    OutcomeFailed,
		},
		{
			name:    "unknown",
			payload: map[string]any{"idEnlace": "500"},
			want:    OutcomeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{todays: todaysLinkFixture()}
			gw := &fakeGateway{detailPayload: tt.payload}
			sched := &fakeScheduler{}
			mem := &fakeMembership{}
			s := newTestService(store, gw, sched, mem)

			res, err := s.ValidatePayment(context.Background(), 42)
			if err != nil {
				t.Fatalf("ValidatePayment: %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("outcome = %q, want %q", res.Outcome, tt.want)
			}
			if len(store.subs) != 0 {
				t.Errorf("subscriptions = %d, want 0", len(store.subs))
			}
			if len(sched.armed) != 0 || mem.restored != 0 || mem.invites != 0 {
				t.Error("access side effects fired on non-approved outcome")
			}
			if len(store.validations) != 1 {
				t.Errorf("validations = %d, audit row required for every check", len(store.validations))
			}
		})
	}
}

func TestValidatePayment_NoLinkTodaySkipsGateway(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestService(&fakeStore{}, gw, &fakeScheduler{}, &fakeMembership{})

	res, err := s.ValidatePayment(context.Background(), 42)
	if err != nil {
		t.Fatalf("ValidatePayment: %v", err)
	}
	if res.Outcome != OutcomeNoLinkToday {
		t.Errorf("outcome = %q, want no_link_today", res.Outcome)
	}
	if gw.detailCalls != 0 {
		t.Error("gateway consulted without a link to check")
	}
}

func TestValidatePayment_GatewayErrorSurfaces(t *testing.T) {
	store := &fakeStore{todays: todaysLinkFixture()}
	gw := &fakeGateway{detailErr: boterrors.New(boterrors.ErrCodeGatewayUnavailable, "open")}
	s := newTestService(store, gw, &fakeScheduler{}, &fakeMembership{})

	_, err := s.ValidatePayment(context.Background(), 42)
	if boterrors.CodeOf(err) != boterrors.ErrCodeGatewayUnavailable {
		t.Errorf("code = %q, want gateway_unavailable", boterrors.CodeOf(err))
	}
	if len(store.validations) != 0 {
		t.Errorf("validations = %d, nothing to audit when the call itself failed", len(store.validations))
	}
}

func TestValidatePayment_InviteFailureStillGrants(t *testing.T) {
	store := &fakeStore{todays: todaysLinkFixture()}
	gw := &fakeGateway{detailPayload: approvedPayload()}
	sched := &fakeScheduler{}
	mem := &fakeMembership{inviteErr: errors.New("telegram down")}
	s := newTestService(store, gw, sched, mem)

	res, err := s.ValidatePayment(context.Background(), 42)
	if err != nil {
		t.Fatalf("ValidatePayment: %v", err)
	}
	if res.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if res.InviteURL != "" {
		t.Errorf("InviteURL = %q, want empty on invite failure", res.InviteURL)
	}
	if len(store.subs) != 1 || len(sched.armed) != 1 {
		t.Error("grant must survive a failed invite call")
	}
}

func TestValidatePayment_DoubleValidationDuplicatesGrant(t *testing.T) {
	store := &fakeStore{todays: todaysLinkFixture()}
	gw := &fakeGateway{detailPayload: approvedPayload()}
	sched := &fakeScheduler{}
	s := newTestService(store, gw, sched, &fakeMembership{})

	for i := 0; i < 2; i++ {
		if _, err := s.ValidatePayment(context.Background(), 42); err != nil {
			t.Fatalf("ValidatePayment #%d: %v", i+1, err)
		}
	}

	// Re-validating an approved link appends a second grant; the scheduler's
	// renewal policy decides whether the second pair replaces the first.
	if len(store.subs) != 2 {
		t.Errorf("subscriptions = %d, want 2", len(store.subs))
	}
	if len(sched.armed) != 2 {
		t.Errorf("armed = %d, want 2", len(sched.armed))
	}
}
