package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubpicks/subsbot/internal/config"
	"github.com/clubpicks/subsbot/internal/errors"
	"github.com/clubpicks/subsbot/internal/logger"
	"github.com/clubpicks/subsbot/internal/metrics"
	"github.com/clubpicks/subsbot/internal/money"
	"github.com/clubpicks/subsbot/internal/records"
	"github.com/clubpicks/subsbot/internal/wompi"
)

const evidenceLimit = 300

// Gateway is the payment-link surface of the Wompi client.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, reference string, amount decimal.Decimal, productName string) (wompi.PaymentLink, error)
	GetLinkDetail(ctx context.Context, linkID string) (map[string]any, error)
}

// Membership grants channel access after a confirmed payment.
type Membership interface {
	// RestoreMembership lifts any prior restriction; restoring an unrestricted
	// user is a no-op.
	RestoreMembership(ctx context.Context, userID int64) error
	// CreateSingleUseInviteLink issues a join link capped at one redemption
	// and valid until expiry.
	CreateSingleUseInviteLink(ctx context.Context, expiry time.Time) (string, error)
}

// ExpiryScheduler arms the reminder/revocation pair for a granted access period.
type ExpiryScheduler interface {
	ArmExpiry(userID int64, expiry time.Time)
	ActiveExpiry(userID int64) (time.Time, bool)
}

// Outcome is the caller-facing result of a payment validation.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomePending     Outcome = "pending"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnknown     Outcome = "unknown"
	OutcomeNoLinkToday Outcome = "no_link_today"
)

// AppliedDiscount describes a code that actually reduced the amount.
type AppliedDiscount struct {
	Code    string
	Owner   string
	Percent int
}

// PurchaseResult is everything the front-end needs to render the link message.
type PurchaseResult struct {
	Link        records.PaymentLinkRecord
	Plan        config.PlanConfig
	Discount    *AppliedDiscount
	InvalidCode string // set when a code was supplied but not found; full price was used
}

// ValidationResult is everything the front-end needs to render the outcome.
type ValidationResult struct {
	Outcome   Outcome
	Link      records.PaymentLinkRecord
	Plan      config.PlanConfig
	Expiry    time.Time // set only on approval
	InviteURL string    // set only on approval; may be empty if the invite call failed
}

// Service orchestrates reference generation, link creation, the same-day link
// lookup, status interpretation, and expiry scheduling. It keeps no record
// state between conversational turns: every operation re-reads the store.
type Service struct {
	cfg        *config.Config
	store      records.Store
	gateway    Gateway
	scheduler  ExpiryScheduler
	membership Membership
	metrics    *metrics.Metrics
	now        func() time.Time

	// lastRefSec guards against two purchases by the same user inside one
	// whole-second window producing the same reference.
	refMu      sync.Mutex
	lastRefSec map[int64]int64
}

// NewService constructs a reconciliation engine.
func NewService(cfg *config.Config, store records.Store, gateway Gateway, scheduler ExpiryScheduler, membership Membership, m *metrics.Metrics) *Service {
	return &Service{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		scheduler:  scheduler,
		membership: membership,
		metrics:    m,
		now:        time.Now,
		lastRefSec: make(map[int64]int64),
	}
}

// InitiatePurchase resolves the plan and optional discount code, creates a
// hosted payment link, and persists the attempt. Gateway failures are never
// retried here; the coded error reaches the front-end for verbatim relay.
func (s *Service) InitiatePurchase(ctx context.Context, userID, chatID int64, username, planKind, discountCode string) (PurchaseResult, error) {
	plan, ok := s.cfg.Plan(planKind)
	if !ok || !plan.Enabled {
		return PurchaseResult{}, errors.New(errors.ErrCodePlanUnavailable, fmt.Sprintf("plan %q not offered", planKind))
	}

	if s.cfg.Subscription.RenewalPolicy == config.RenewalReject {
		if expiry, active := s.scheduler.ActiveExpiry(userID); active {
			return PurchaseResult{}, errors.New(errors.ErrCodeAlreadySubscribed,
				fmt.Sprintf("subscription active until %s", expiry.UTC().Format(time.RFC3339)))
		}
	}

	result := PurchaseResult{Plan: plan}
	amount := plan.Amount

	if discountCode != "" && plan.AcceptsDiscounts {
		if entry, found := s.cfg.Discount(discountCode); found {
			amount = money.ApplyDiscount(plan.Amount, entry.Fraction)
			percent := money.DiscountPercent(entry.Fraction)
			result.Discount = &AppliedDiscount{Code: entry.Code, Owner: entry.Owner, Percent: percent}

			if err := s.store.AppendDiscountUsage(ctx, records.DiscountUsageRecord{
				At:      s.now().UTC(),
				UserID:  userID,
				Code:    entry.Code,
				Owner:   entry.Owner,
				Percent: percent,
			}); err != nil {
				return PurchaseResult{}, errors.Wrap(errors.ErrCodeStore, "record discount usage", err)
			}
			if s.metrics != nil {
				s.metrics.DiscountsAppliedTotal.WithLabelValues(entry.Code).Inc()
			}
		} else {
			// Not found: informational only, the purchase continues at full price.
			result.InvalidCode = discountCode
		}
	}

	reference := s.reference(userID)

	start := s.now()
	link, err := s.gateway.CreatePaymentLink(ctx, reference, amount, plan.Name)
	if s.metrics != nil {
		s.metrics.ObserveGatewayRequest("create_link", start)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.LinkCreationFailures.Inc()
		}
		return PurchaseResult{}, err
	}

	rec := records.PaymentLinkRecord{
		CreatedAt:  s.now().UTC(),
		UserID:     userID,
		ChatID:     chatID,
		Username:   username,
		Reference:  reference,
		LinkID:     link.ID,
		PayableURL: link.URL,
		AmountUSD:  amount,
		Plan:       plan.Kind,
		Status:     "creado",
	}
	if err := s.store.AppendLink(ctx, rec); err != nil {
		return PurchaseResult{}, errors.Wrap(errors.ErrCodeStore, "record payment link", err)
	}
	if s.metrics != nil {
		s.metrics.LinksCreatedTotal.WithLabelValues(plan.Kind).Inc()
	}

	result.Link = rec
	return result, nil
}

// TodaysLink returns the user's most recent payment link created today in the
// business timezone, so a lost chat message never forces a duplicate payment.
// Ties on the timestamp resolve to the last-appended row.
func (s *Service) TodaysLink(ctx context.Context, userID int64) (records.PaymentLinkRecord, error) {
	links, err := s.store.TodaysLinks(ctx, userID)
	if err != nil {
		return records.PaymentLinkRecord{}, errors.Wrap(errors.ErrCodeStore, "query today's links", err)
	}
	if len(links) == 0 {
		return records.PaymentLinkRecord{}, errors.New(errors.ErrCodeNoLinkToday, "no payment link created today")
	}

	best := links[0]
	for _, link := range links[1:] {
		if !link.CreatedAt.Before(best.CreatedAt) {
			best = link
		}
	}
	return best, nil
}

// ValidatePayment checks the settlement state of today's link. Every check
// appends an audit record, whatever the outcome. Approval grants access:
// subscription record, membership restore, single-use invite, armed expiry.
func (s *Service) ValidatePayment(ctx context.Context, userID int64) (ValidationResult, error) {
	link, err := s.TodaysLink(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNoLinkToday) {
			return ValidationResult{Outcome: OutcomeNoLinkToday}, nil
		}
		return ValidationResult{}, err
	}

	start := s.now()
	payload, err := s.gateway.GetLinkDetail(ctx, link.LinkID)
	if s.metrics != nil {
		s.metrics.ObserveGatewayRequest("link_detail", start)
	}
	if err != nil {
		return ValidationResult{}, err
	}

	gwOutcome, evidence := wompi.InferOutcome(payload)
	outcome := mapOutcome(gwOutcome)

	if err := s.store.AppendValidation(ctx, records.ValidationAttemptRecord{
		At:        s.now().UTC(),
		UserID:    userID,
		Reference: link.Reference,
		LinkID:    link.LinkID,
		Outcome:   string(gwOutcome),
		Detail:    wompi.EvidenceSnapshot(evidence, evidenceLimit),
	}); err != nil {
		// The audit row must not block a paid user; log and move on.
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Int64("user_id", userID).Msg("validation audit append failed")
	}
	if s.metrics != nil {
		s.metrics.ValidationsTotal.WithLabelValues(string(outcome)).Inc()
	}

	result := ValidationResult{Outcome: outcome, Link: link}
	if outcome != OutcomeApproved {
		return result, nil
	}

	plan, ok := s.cfg.Plan(link.Plan)
	if !ok {
		return ValidationResult{}, errors.New(errors.ErrCodePlanUnavailable,
			fmt.Sprintf("approved link references unknown plan %q", link.Plan))
	}
	result.Plan = plan

	expiry := s.now().UTC().Add(time.Duration(plan.Days) * 24 * time.Hour)
	if err := s.store.AppendSubscription(ctx, records.SubscriptionRecord{
		UserID:    userID,
		Plan:      plan.Kind,
		ExpiresAt: expiry,
		Status:    "activa",
	}); err != nil {
		return ValidationResult{}, errors.Wrap(errors.ErrCodeStore, "record subscription", err)
	}

	log := logger.FromContext(ctx)
	if err := s.membership.RestoreMembership(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("membership restore failed")
	}
	invite, err := s.membership.CreateSingleUseInviteLink(ctx, s.now().Add(s.cfg.Subscription.InviteTTL.Duration))
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("invite link creation failed")
	} else {
		result.InviteURL = invite
	}

	s.scheduler.ArmExpiry(userID, expiry)
	if s.metrics != nil {
		s.metrics.SubscriptionsGrantedTotal.WithLabelValues(plan.Kind).Inc()
	}

	result.Expiry = expiry
	return result, nil
}

// reference builds the merchant identifier tg_{userId}_{epochSeconds}. When a
// user triggers two purchases inside the same second, the second one advances
// past the last used second so references stay globally unique.
func (s *Service) reference(userID int64) string {
	sec := s.now().Unix()

	s.refMu.Lock()
	if last, ok := s.lastRefSec[userID]; ok && sec <= last {
		sec = last + 1
	}
	s.lastRefSec[userID] = sec
	s.refMu.Unlock()

	return fmt.Sprintf("tg_%d_%d", userID, sec)
}

func mapOutcome(o wompi.Outcome) Outcome {
	switch o {
	case wompi.OutcomeApproved:
		return OutcomeApproved
	case wompi.OutcomePending:
		return OutcomePending
	case wompi.OutcomeFailed:
		return OutcomeFailed
	default:
		return OutcomeUnknown
	}
}
