package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger appends committed lifecycle events to the audit_logs
// collection. Event ids are the document ids, so a replayed batch is a no-op.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	RequestID string    `bson:"request_id"`
	BidID     string    `bson:"bid_id,omitempty"`
	HoldID    string    `bson:"hold_id,omitempty"`
	ActorID   string    `bson:"actor_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data,omitempty"`
}

func auditLog(e domain.Event) AuditLog {
	log := AuditLog{
		ID:        e.ID.String(),
		Action:    string(e.Type),
		RequestID: e.RequestID.String(),
		ActorID:   e.ActorID.String(),
		Timestamp: e.OccurredAt,
	}
	if e.BidID != nil {
		log.BidID = e.BidID.String()
	}
	if e.HoldID != nil {
		log.HoldID = e.HoldID.String()
	}
	if len(e.Data) > 0 {
		log.Data = bson.M(e.Data)
	}
	return log
}

func (a *AuditLogger) LogEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		docs = append(docs, auditLog(e))
	}
	_, err := a.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return nil
}

// Notify implements holds.Notifier. Failures are logged; the outbox remains
// the durable record.
func (a *AuditLogger) Notify(ctx context.Context, events []domain.Event) {
	if err := a.LogEvents(ctx, events); err != nil {
		a.logger.WithField("events", len(events)).WithField("error", err.Error()).Error("failed to insert audit log")
	}
}

// Trail returns the newest audit entries of a request, oldest first.
func (a *AuditLogger) Trail(ctx context.Context, requestID uuid.UUID, limit int64) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx,
		bson.M{"request_id": requestID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return err
}
