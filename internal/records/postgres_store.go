package records

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Tables are insert-only; the
// serial id column preserves insertion order for the per-day lookup.
type PostgresStore struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// NewPostgresStore opens a connection pool and creates the tables if missing.
func NewPostgresStore(connectionString string, loc *time.Location) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("records: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("records: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, loc: loc, now: time.Now}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payment_links (
			id BIGSERIAL PRIMARY KEY,
			timestamp_utc TIMESTAMPTZ NOT NULL,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			username TEXT NOT NULL,
			referencia TEXT NOT NULL UNIQUE,
			id_enlace TEXT NOT NULL,
			url_enlace TEXT NOT NULL,
			monto_usd NUMERIC(10,2) NOT NULL,
			plan TEXT NOT NULL,
			estado TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_links_user ON payment_links(user_id)`,
		`CREATE TABLE IF NOT EXISTS validaciones (
			id BIGSERIAL PRIMARY KEY,
			timestamp_utc TIMESTAMPTZ NOT NULL,
			user_id BIGINT NOT NULL,
			referencia TEXT NOT NULL,
			id_enlace TEXT NOT NULL,
			resultado TEXT NOT NULL,
			detalle TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subs (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			tipo TEXT NOT NULL,
			expiracion_utc TIMESTAMPTZ NOT NULL,
			estado TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS referidos (
			id BIGSERIAL PRIMARY KEY,
			timestamp_utc TIMESTAMPTZ NOT NULL,
			user_id BIGINT NOT NULL,
			codigo TEXT NOT NULL,
			creador TEXT NOT NULL,
			descuento INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telefonos (
			id BIGSERIAL PRIMARY KEY,
			timestamp_utc TIMESTAMPTZ NOT NULL,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			username TEXT NOT NULL,
			phone TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("records: create tables: %w", err)
		}
	}
	return nil
}

// AppendLink inserts a payment link row.
func (s *PostgresStore) AppendLink(ctx context.Context, rec PaymentLinkRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_links (timestamp_utc, user_id, chat_id, username, referencia, id_enlace, url_enlace, monto_usd, plan, estado)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.CreatedAt.UTC(), rec.UserID, rec.ChatID, rec.Username, rec.Reference,
		rec.LinkID, rec.PayableURL, rec.AmountUSD.StringFixed(2), rec.Plan, rec.Status)
	if err != nil {
		return fmt.Errorf("records: insert payment link: %w", err)
	}
	return nil
}

// AppendValidation inserts an audit row.
func (s *PostgresStore) AppendValidation(ctx context.Context, rec ValidationAttemptRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validaciones (timestamp_utc, user_id, referencia, id_enlace, resultado, detalle)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.At.UTC(), rec.UserID, rec.Reference, rec.LinkID, rec.Outcome, rec.Detail)
	if err != nil {
		return fmt.Errorf("records: insert validation: %w", err)
	}
	return nil
}

// AppendSubscription inserts a granted access period.
func (s *PostgresStore) AppendSubscription(ctx context.Context, rec SubscriptionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subs (user_id, tipo, expiracion_utc, estado) VALUES ($1, $2, $3, $4)`,
		rec.UserID, rec.Plan, rec.ExpiresAt.UTC(), rec.Status)
	if err != nil {
		return fmt.Errorf("records: insert subscription: %w", err)
	}
	return nil
}

// AppendDiscountUsage inserts a code application.
func (s *PostgresStore) AppendDiscountUsage(ctx context.Context, rec DiscountUsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO referidos (timestamp_utc, user_id, codigo, creador, descuento) VALUES ($1, $2, $3, $4, $5)`,
		rec.At.UTC(), rec.UserID, rec.Code, rec.Owner, rec.Percent)
	if err != nil {
		return fmt.Errorf("records: insert discount usage: %w", err)
	}
	return nil
}

// AppendPhone inserts a shared contact.
func (s *PostgresStore) AppendPhone(ctx context.Context, rec PhoneRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telefonos (timestamp_utc, user_id, chat_id, username, phone) VALUES ($1, $2, $3, $4, $5)`,
		rec.At.UTC(), rec.UserID, rec.ChatID, rec.Username, rec.Phone)
	if err != nil {
		return fmt.Errorf("records: insert phone: %w", err)
	}
	return nil
}

// TodaysLinks fetches the user's rows in insertion order and filters by the
// civil date in Go, so every backend shares the same timezone semantics.
func (s *PostgresStore) TodaysLinks(ctx context.Context, userID int64) ([]PaymentLinkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp_utc, user_id, chat_id, username, referencia, id_enlace, url_enlace, monto_usd, plan, estado
		 FROM payment_links WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("records: query payment links: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var out []PaymentLinkRecord
	for rows.Next() {
		var rec PaymentLinkRecord
		var amount string
		if err := rows.Scan(&rec.CreatedAt, &rec.UserID, &rec.ChatID, &rec.Username, &rec.Reference,
			&rec.LinkID, &rec.PayableURL, &amount, &rec.Plan, &rec.Status); err != nil {
			return nil, fmt.Errorf("records: scan payment link: %w", err)
		}
		if !sameLocalDay(rec.CreatedAt, now, s.loc) {
			continue
		}
		if parsed, err := decimal.NewFromString(amount); err == nil {
			rec.AmountUSD = parsed
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: iterate payment links: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
