package records

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store on insert-only MongoDB collections. The _id
// ObjectID is monotonic per process, which preserves insertion order for the
// per-day lookup.
type MongoDBStore struct {
	client    *mongo.Client
	links     *mongo.Collection
	valids    *mongo.Collection
	subs      *mongo.Collection
	discounts *mongo.Collection
	phones    *mongo.Collection
	loc       *time.Location
	now       func() time.Time
}

// NewMongoDBStore connects and prepares the collections and indexes.
func NewMongoDBStore(connectionString, database string, loc *time.Location) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("records: connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("records: ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoDBStore{
		client:    client,
		links:     db.Collection("payment_links"),
		valids:    db.Collection("validaciones"),
		subs:      db.Collection("subs"),
		discounts: db.Collection("referidos"),
		phones:    db.Collection("telefonos"),
		loc:       loc,
		now:       time.Now,
	}

	if _, err := s.links.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "referencia", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("records: create indexes: %w", err)
	}

	return s, nil
}

// AppendLink inserts a payment link document.
func (s *MongoDBStore) AppendLink(ctx context.Context, rec PaymentLinkRecord) error {
	_, err := s.links.InsertOne(ctx, bson.M{
		"timestamp_utc": rec.CreatedAt.UTC(),
		"user_id":       rec.UserID,
		"chat_id":       rec.ChatID,
		"username":      rec.Username,
		"referencia":    rec.Reference,
		"id_enlace":     rec.LinkID,
		"url_enlace":    rec.PayableURL,
		"monto_usd":     rec.AmountUSD.StringFixed(2),
		"plan":          rec.Plan,
		"estado":        rec.Status,
	})
	if err != nil {
		return fmt.Errorf("records: insert payment link: %w", err)
	}
	return nil
}

// AppendValidation inserts an audit document.
func (s *MongoDBStore) AppendValidation(ctx context.Context, rec ValidationAttemptRecord) error {
	_, err := s.valids.InsertOne(ctx, bson.M{
		"timestamp_utc": rec.At.UTC(),
		"user_id":       rec.UserID,
		"referencia":    rec.Reference,
		"id_enlace":     rec.LinkID,
		"resultado":     rec.Outcome,
		"detalle":       rec.Detail,
	})
	if err != nil {
		return fmt.Errorf("records: insert validation: %w", err)
	}
	return nil
}

// AppendSubscription inserts a granted access period.
func (s *MongoDBStore) AppendSubscription(ctx context.Context, rec SubscriptionRecord) error {
	_, err := s.subs.InsertOne(ctx, bson.M{
		"user_id":        rec.UserID,
		"tipo":           rec.Plan,
		"expiracion_utc": rec.ExpiresAt.UTC(),
		"estado":         rec.Status,
	})
	if err != nil {
		return fmt.Errorf("records: insert subscription: %w", err)
	}
	return nil
}

// AppendDiscountUsage inserts a code application.
func (s *MongoDBStore) AppendDiscountUsage(ctx context.Context, rec DiscountUsageRecord) error {
	_, err := s.discounts.InsertOne(ctx, bson.M{
		"timestamp_utc": rec.At.UTC(),
		"user_id":       rec.UserID,
		"codigo":        rec.Code,
		"creador":       rec.Owner,
		"descuento":     rec.Percent,
	})
	if err != nil {
		return fmt.Errorf("records: insert discount usage: %w", err)
	}
	return nil
}

// AppendPhone inserts a shared contact.
func (s *MongoDBStore) AppendPhone(ctx context.Context, rec PhoneRecord) error {
	_, err := s.phones.InsertOne(ctx, bson.M{
		"timestamp_utc": rec.At.UTC(),
		"user_id":       rec.UserID,
		"chat_id":       rec.ChatID,
		"username":      rec.Username,
		"phone":         rec.Phone,
	})
	if err != nil {
		return fmt.Errorf("records: insert phone: %w", err)
	}
	return nil
}

// TodaysLinks fetches the user's documents in insertion order and filters by
// the civil date in Go, matching the other backends.
func (s *MongoDBStore) TodaysLinks(ctx context.Context, userID int64) ([]PaymentLinkRecord, error) {
	cursor, err := s.links.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("records: query payment links: %w", err)
	}
	defer cursor.Close(ctx)

	now := s.now()
	var out []PaymentLinkRecord
	for cursor.Next(ctx) {
		var doc struct {
			CreatedAt  time.Time `bson:"timestamp_utc"`
			UserID     int64     `bson:"user_id"`
			ChatID     int64     `bson:"chat_id"`
			Username   string    `bson:"username"`
			Reference  string    `bson:"referencia"`
			LinkID     string    `bson:"id_enlace"`
			PayableURL string    `bson:"url_enlace"`
			AmountUSD  string    `bson:"monto_usd"`
			Plan       string    `bson:"plan"`
			Status     string    `bson:"estado"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("records: decode payment link: %w", err)
		}
		if !sameLocalDay(doc.CreatedAt, now, s.loc) {
			continue
		}
		amount, err := decimal.NewFromString(doc.AmountUSD)
		if err != nil {
			amount = decimal.Zero
		}
		out = append(out, PaymentLinkRecord{
			CreatedAt:  doc.CreatedAt,
			UserID:     doc.UserID,
			ChatID:     doc.ChatID,
			Username:   doc.Username,
			Reference:  doc.Reference,
			LinkID:     doc.LinkID,
			PayableURL: doc.PayableURL,
			AmountUSD:  amount,
			Plan:       doc.Plan,
			Status:     doc.Status,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("records: iterate payment links: %w", err)
	}
	return out, nil
}

// Close disconnects the client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
