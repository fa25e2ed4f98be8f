// internal/adapters/history/mongo.go
// Package history archives completed runs for later inspection. The
// archive is best effort: the scheduler's own state store remains the
// source of truth, so archive failures are logged and swallowed by
// callers rather than failing the run.
package history

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

const (
	databaseName   = "strata"
	collectionName = "runs"
	connectTimeout = 10 * time.Second
)

// MongoHistory stores run documents in a MongoDB collection keyed by
// run ID, one document per run, upserted on every save.
type MongoHistory struct {
	client *mongo.Client
	runs   *mongo.Collection
	logger logx.Logger
}

var _ ports.RunHistory = (*MongoHistory)(nil)

// NewMongoHistory connects to MongoDB and prepares the runs collection.
func NewMongoHistory(ctx context.Context, uri string, logger logx.Logger) (*MongoHistory, error) {
	if logger == nil {
		logger = logx.New()
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to run history at %s", uri)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrapf(err, "pinging run history")
	}

	h := &MongoHistory{
		client: client,
		runs:   client.Database(databaseName).Collection(collectionName),
		logger: logger.With("component", "run-history"),
	}
	if err := h.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *MongoHistory) ensureIndexes(ctx context.Context) error {
	_, err := h.runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "submitted_at", Value: -1}}},
		{Keys: bson.D{{Key: "trigger", Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "creating run history indexes")
	}
	return nil
}

// runDocument wraps the run for storage. The run itself travels as its
// JSON encoding so the wire shape matches the state store's on-disk
// format; the indexed fields are lifted out alongside it.
type runDocument struct {
	ID          string    `bson:"id"`
	Trigger     string    `bson:"trigger"`
	State       string    `bson:"state"`
	SubmittedAt time.Time `bson:"submitted_at"`
	Run         string    `bson:"run"`
}

// SaveRun upserts the run document.
func (h *MongoHistory) SaveRun(ctx context.Context, run *domain.Run) error {
	encoded, err := json.Marshal(run)
	if err != nil {
		return errors.Wrapf(err, "encoding run %s", run.ID)
	}
	doc := runDocument{
		ID:          run.ID,
		Trigger:     string(run.Trigger),
		State:       string(run.State()),
		SubmittedAt: run.CreatedAt,
		Run:         string(encoded),
	}

	_, err = h.runs.UpdateOne(ctx,
		bson.M{"id": run.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "archiving run %s", run.ID)
	}
	h.logger.Debug("run archived", "run", run.ID, "state", doc.State)
	return nil
}

func decodeRunDocument(doc runDocument) (*domain.Run, error) {
	var run domain.Run
	if err := json.Unmarshal([]byte(doc.Run), &run); err != nil {
		return nil, errors.Wrapf(err, "decoding archived run %s", doc.ID)
	}
	return &run, nil
}

// GetRun fetches one archived run.
func (h *MongoHistory) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var doc runDocument
	err := h.runs.FindOne(ctx, bson.M{"id": runID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrUnknownRun
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetching run %s", runID)
	}
	return decodeRunDocument(doc)
}

// ListRuns returns archived runs matching the filter, newest first.
func (h *MongoHistory) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	query := bson.M{}
	if filter.Trigger != "" {
		query["trigger"] = string(filter.Trigger)
	}
	if filter.State != "" {
		query["state"] = string(filter.State)
	}

	opts := options.Find().SetSort(bson.D{{Key: "submitted_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := h.runs.Find(ctx, query, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing archived runs")
	}
	defer cursor.Close(ctx)

	var runs []*domain.Run
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding archived run")
		}
		run, err := decodeRunDocument(doc)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating archived runs")
	}
	return runs, nil
}

// Close disconnects from MongoDB.
func (h *MongoHistory) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return h.client.Disconnect(ctx)
}
