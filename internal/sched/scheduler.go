package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubpicks/subsbot/internal/config"
	"github.com/clubpicks/subsbot/internal/metrics"
)

// Membership removes a user from the restricted channel. Implementations must
// be idempotent: revoking a user who already left is a no-op, not an error.
type Membership interface {
	RevokeMembership(ctx context.Context, userID int64) error
}

// Notifier delivers a plain text message to a user's private chat.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

const (
	reminderText   = "⚠️ Tu suscripción vence pronto. Renueva para evitar suspensión."
	revocationText = "❌ Tu suscripción expiró. Has sido removido del canal. Paga para reactivarte."
)

// Scheduler arms one-shot reminder and revocation timers per subscription
// expiry. Jobs run as independent goroutines, never inside a request's call
// stack, and are lost on restart by design: the record store, not the
// scheduler, is the source of truth for who paid.
type Scheduler struct {
	membership   Membership
	notifier     Notifier
	policy       config.RenewalPolicy
	reminderLead time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time

	mu    sync.Mutex
	pairs map[int64][]*expiryPair
}

type expiryPair struct {
	expiry   time.Time
	reminder *time.Timer // nil when the reminder instant was already past
	revoke   *time.Timer
}

// New creates a scheduler with no armed timers.
func New(membership Membership, notifier Notifier, cfg config.SubscriptionConfig, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		membership:   membership,
		notifier:     notifier,
		policy:       cfg.RenewalPolicy,
		reminderLead: cfg.ReminderLead.Duration,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
		pairs:        make(map[int64][]*expiryPair),
	}
}

// ArmExpiry schedules the reminder/revocation pair for a granted subscription.
// Under the extend policy any previously armed pair for the user is cancelled
// and replaced with the later of the two expiries; under the stack policy the
// new pair is armed independently, so a stale revocation may still fire
// against a renewed subscription, exactly as the operator configured.
func (s *Scheduler) ArmExpiry(userID int64, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy != config.RenewalStack {
		for _, pair := range s.pairs[userID] {
			if pair.expiry.After(expiry) {
				expiry = pair.expiry
			}
			pair.stop()
		}
		s.pairs[userID] = nil
	}

	pair := &expiryPair{expiry: expiry}
	now := s.now()

	if reminderAt := expiry.Add(-s.reminderLead); reminderAt.After(now) {
		pair.reminder = time.AfterFunc(reminderAt.Sub(now), func() { s.fireReminder(userID) })
	}
	pair.revoke = time.AfterFunc(expiry.Sub(now), func() { s.fireRevocation(userID, pair) })

	s.pairs[userID] = append(s.pairs[userID], pair)

	s.logger.Info().
		Int64("user_id", userID).
		Time("expiry", expiry).
		Str("policy", string(s.policy)).
		Msg("expiry timers armed")
}

// ActiveExpiry returns the latest armed expiry still in the future, if any.
// The reconciliation engine consults this to refuse renewals under the reject
// policy before any money moves.
func (s *Scheduler) ActiveExpiry(userID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest time.Time
	now := s.now()
	for _, pair := range s.pairs[userID] {
		if pair.expiry.After(now) && pair.expiry.After(latest) {
			latest = pair.expiry
		}
	}
	return latest, !latest.IsZero()
}

func (s *Scheduler) fireReminder(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.notifier.Notify(ctx, userID, reminderText); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("reminder notification failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RemindersFiredTotal.Inc()
	}
}

func (s *Scheduler) fireRevocation(userID int64, fired *expiryPair) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.membership.RevokeMembership(ctx, userID); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("revocation failed")
		// Leave the pair armed state as-is; the next approved payment re-arms.
	}
	if err := s.notifier.Notify(ctx, userID, revocationText); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("revocation notification failed")
	}
	if s.metrics != nil {
		s.metrics.RevocationsFiredTotal.Inc()
	}

	s.mu.Lock()
	remaining := s.pairs[userID][:0]
	for _, pair := range s.pairs[userID] {
		if pair != fired {
			remaining = append(remaining, pair)
		}
	}
	if len(remaining) == 0 {
		delete(s.pairs, userID)
	} else {
		s.pairs[userID] = remaining
	}
	s.mu.Unlock()
}

// Close stops every armed timer. Pending jobs that already fired keep running.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, pairs := range s.pairs {
		for _, pair := range pairs {
			pair.stop()
		}
		delete(s.pairs, userID)
	}
	return nil
}

func (p *expiryPair) stop() {
	if p.reminder != nil {
		p.reminder.Stop()
	}
	if p.revoke != nil {
		p.revoke.Stop()
	}
}
