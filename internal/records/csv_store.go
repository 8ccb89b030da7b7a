package records

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CSV table layout mirrors the operator's existing spreadsheets: one file per
// record kind, fixed header row, UTC timestamps in RFC3339, rows only appended.
var (
	linksHeader      = []string{"timestamp_utc", "user_id", "chat_id", "username", "referencia", "idEnlace", "urlEnlace", "monto_usd", "plan", "estado"}
	validHeader      = []string{"timestamp_utc", "user_id", "referencia", "idEnlace", "resultado", "detalle"}
	subsHeader       = []string{"user_id", "tipo", "expiracion_utc", "estado"}
	discountsHeader  = []string{"timestamp_utc", "user_id", "codigo", "creador", "descuento"}
	phonesHeader     = []string{"timestamp_utc", "user_id", "chat_id", "username", "phone"}
)

const (
	linksFile     = "links.csv"
	validFile     = "validaciones.csv"
	subsFile      = "subs.csv"
	discountsFile = "referidos.csv"
	phonesFile    = "telefonos.csv"
)

// CSVStore implements Store on flat CSV tables under a data directory.
// It is the default backend; the operator audits these tables directly with
// spreadsheet tooling.
type CSVStore struct {
	dir string
	loc *time.Location
	now func() time.Time
	mu  sync.Mutex
}

// NewCSVStore creates the data directory and the table files with their
// headers if missing.
func NewCSVStore(dir string, loc *time.Location) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("records: create data dir: %w", err)
	}

	s := &CSVStore{dir: dir, loc: loc, now: time.Now}

	tables := map[string][]string{
		linksFile:     linksHeader,
		validFile:     validHeader,
		subsFile:      subsHeader,
		discountsFile: discountsHeader,
		phonesFile:    phonesHeader,
	}
	for file, header := range tables {
		if err := s.ensureTable(file, header); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVStore) ensureTable(file string, header []string) error {
	path := filepath.Join(s.dir, file)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("records: create table %s: %w", file, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("records: write header %s: %w", file, err)
	}
	w.Flush()
	return w.Error()
}

func (s *CSVStore) appendRow(file string, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, file), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("records: open table %s: %w", file, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("records: append to %s: %w", file, err)
	}
	w.Flush()
	return w.Error()
}

// AppendLink writes a payment link row.
func (s *CSVStore) AppendLink(_ context.Context, rec PaymentLinkRecord) error {
	return s.appendRow(linksFile, []string{
		rec.CreatedAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(rec.UserID, 10),
		strconv.FormatInt(rec.ChatID, 10),
		rec.Username,
		rec.Reference,
		rec.LinkID,
		rec.PayableURL,
		rec.AmountUSD.StringFixed(2),
		rec.Plan,
		rec.Status,
	})
}

// AppendValidation writes an audit row for a status check.
func (s *CSVStore) AppendValidation(_ context.Context, rec ValidationAttemptRecord) error {
	return s.appendRow(validFile, []string{
		rec.At.UTC().Format(time.RFC3339),
		strconv.FormatInt(rec.UserID, 10),
		rec.Reference,
		rec.LinkID,
		rec.Outcome,
		rec.Detail,
	})
}

// AppendSubscription writes a granted access period.
func (s *CSVStore) AppendSubscription(_ context.Context, rec SubscriptionRecord) error {
	return s.appendRow(subsFile, []string{
		strconv.FormatInt(rec.UserID, 10),
		rec.Plan,
		rec.ExpiresAt.UTC().Format(time.RFC3339),
		rec.Status,
	})
}

// AppendDiscountUsage writes a successful code application.
func (s *CSVStore) AppendDiscountUsage(_ context.Context, rec DiscountUsageRecord) error {
	return s.appendRow(discountsFile, []string{
		rec.At.UTC().Format(time.RFC3339),
		strconv.FormatInt(rec.UserID, 10),
		rec.Code,
		rec.Owner,
		strconv.Itoa(rec.Percent),
	})
}

// AppendPhone writes a shared contact.
func (s *CSVStore) AppendPhone(_ context.Context, rec PhoneRecord) error {
	return s.appendRow(phonesFile, []string{
		rec.At.UTC().Format(time.RFC3339),
		strconv.FormatInt(rec.UserID, 10),
		strconv.FormatInt(rec.ChatID, 10),
		rec.Username,
		rec.Phone,
	})
}

// TodaysLinks scans the links table for the user's rows dated today in the
// business timezone, preserving file order.
func (s *CSVStore) TodaysLinks(_ context.Context, userID int64) ([]PaymentLinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, linksFile))
	if err != nil {
		return nil, fmt.Errorf("records: open table %s: %w", linksFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	// skip header
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("records: read %s header: %w", linksFile, err)
	}

	now := s.now()
	var out []PaymentLinkRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("records: read %s: %w", linksFile, err)
		}
		if len(row) < len(linksHeader) {
			continue
		}
		uid, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil || uid != userID {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			continue
		}
		if !sameLocalDay(ts, now, s.loc) {
			continue
		}
		chatID, _ := strconv.ParseInt(row[2], 10, 64)
		amount, err := decimal.NewFromString(row[7])
		if err != nil {
			amount = decimal.Zero
		}
		out = append(out, PaymentLinkRecord{
			CreatedAt:  ts,
			UserID:     uid,
			ChatID:     chatID,
			Username:   row[3],
			Reference:  row[4],
			LinkID:     row[5],
			PayableURL: row[6],
			AmountUSD:  amount,
			Plan:       row[8],
			Status:     row[9],
		})
	}
	return out, nil
}

// Close is a no-op; files are opened per operation.
func (s *CSVStore) Close() error {
	return nil
}
