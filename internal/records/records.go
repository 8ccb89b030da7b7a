package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubpicks/subsbot/internal/config"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("records: not found")

// PaymentLinkRecord is written once per successful gateway link creation.
// Rows are never mutated or deleted.
type PaymentLinkRecord struct {
	CreatedAt  time.Time
	UserID     int64
	ChatID     int64
	Username   string
	Reference  string
	LinkID     string
	PayableURL string
	AmountUSD  decimal.Decimal
	Plan       string
	Status     string
}

// ValidationAttemptRecord is appended on every status check, approved or not,
// so the audit trail stays continuous even for Unknown outcomes.
type ValidationAttemptRecord struct {
	At        time.Time
	UserID    int64
	Reference string
	LinkID    string
	Outcome   string
	Detail    string // truncated snapshot of the gateway transaction node
}

// SubscriptionRecord is created only after an approved outcome. A user may
// accumulate several over time; there are no merge semantics.
type SubscriptionRecord struct {
	UserID    int64
	Plan      string
	ExpiresAt time.Time
	Status    string
}

// DiscountUsageRecord is written only when an enabled code was applied to a
// discount-eligible plan.
type DiscountUsageRecord struct {
	At      time.Time
	UserID  int64
	Code    string
	Owner   string
	Percent int
}

// PhoneRecord accumulates every contact share; there is no uniqueness rule.
type PhoneRecord struct {
	At       time.Time
	UserID   int64
	ChatID   int64
	Username string
	Phone    string
}

// Store captures the append-only persistence the reconciliation workflow needs.
// All implementations keep insertion order within a user's rows; there is one
// writer per process, so no cross-process coordination is attempted.
type Store interface {
	AppendLink(ctx context.Context, rec PaymentLinkRecord) error
	AppendValidation(ctx context.Context, rec ValidationAttemptRecord) error
	AppendSubscription(ctx context.Context, rec SubscriptionRecord) error
	AppendDiscountUsage(ctx context.Context, rec DiscountUsageRecord) error
	AppendPhone(ctx context.Context, rec PhoneRecord) error

	// TodaysLinks returns the user's payment links whose creation instant falls
	// on the current civil date in the store's business timezone, in insertion
	// order. "Today" is a local-calendar question, never a UTC-date one.
	TodaysLinks(ctx context.Context, userID int64) ([]PaymentLinkRecord, error)

	Close() error
}

// New creates a record store based on the configured backend.
func New(cfg config.StorageConfig, loc *time.Location) (Store, error) {
	switch cfg.Backend {
	case "csv", "":
		return NewCSVStore(cfg.DataDir, loc)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, loc)
	case "mongodb":
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, loc)
	default:
		return nil, fmt.Errorf("records: unknown storage backend %q", cfg.Backend)
	}
}

// sameLocalDay reports whether ts and now fall on the same civil date in loc.
func sameLocalDay(ts, now time.Time, loc *time.Location) bool {
	y1, m1, d1 := ts.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
