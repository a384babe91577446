// Package mongo provides a MongoDB-backed ciba.Store. Status transitions are
// conditional updates, so several replicas polling the same request agree on
// a single resolution and a single consumption.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

const (
	defaultCollection = "ciba_requests"
	defaultOpTimeout  = 5 * time.Second
	storeName         = "ciba-mongo"
)

// Options configures the store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
	// Retention removes resolved requests this long after they expire. Zero
	// keeps them.
	Retention time.Duration
}

// Store implements ciba.Store on a Mongo collection.
type Store struct {
	client  *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New returns a Store and ensures its indexes.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	s := &Store{
		client:  opts.Client,
		coll:    opts.Client.Database(opts.Database).Collection(name),
		timeout: opts.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = defaultOpTimeout
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	idx := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "tool_call_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "status", Value: 1}}},
	}
	if opts.Retention > 0 {
		idx = append(idx, mongodriver.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(opts.Retention / time.Second)),
		})
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, idx); err != nil {
		return nil, fmt.Errorf("create ciba indexes: %w", err)
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Create implements ciba.Store.
func (s *Store) Create(ctx context.Context, req ciba.Request) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, fromRequest(req)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return ciba.ErrDuplicateRequest
		}
		return fmt.Errorf("insert ciba request: %w", err)
	}
	return nil
}

// Load implements ciba.Store.
func (s *Store) Load(ctx context.Context, id string) (ciba.Request, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// FindByToolCall implements ciba.Store.
func (s *Store) FindByToolCall(ctx context.Context, key string) (ciba.Request, error) {
	return s.findOne(ctx, bson.M{"tool_call_key": key})
}

// Resolve implements ciba.Store.
func (s *Store) Resolve(ctx context.Context, id string, status ciba.Status, at time.Time) (ciba.Request, error) {
	if _, err := (ciba.Request{Status: ciba.StatusPending}).Resolve(status, at); err != nil {
		return ciba.Request{}, err
	}
	at = at.UTC()
	update := bson.M{"$set": bson.M{"status": status, "resolved_at": at, "updated_at": at}}
	next, err := s.transition(ctx, bson.M{"_id": id, "status": ciba.StatusPending}, update)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		cur, lerr := s.Load(ctx, id)
		if lerr != nil {
			return ciba.Request{}, lerr
		}
		return cur, ciba.ErrNotPending
	}
	return next, err
}

// Consume implements ciba.Store.
func (s *Store) Consume(ctx context.Context, id string, at time.Time) (ciba.Request, error) {
	at = at.UTC()
	filter := bson.M{"_id": id, "status": ciba.StatusApproved, "consumed": false}
	update := bson.M{"$set": bson.M{"consumed": true, "consumed_at": at, "updated_at": at}}
	next, err := s.transition(ctx, filter, update)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		cur, lerr := s.Load(ctx, id)
		if lerr != nil {
			return ciba.Request{}, lerr
		}
		// Reproduce the state machine error for the stored request.
		_, cerr := cur.Consume(at)
		if cerr == nil {
			cerr = ciba.ErrAlreadyConsumed
		}
		return cur, cerr
	}
	return next, err
}

func (s *Store) transition(ctx context.Context, filter, update bson.M) (ciba.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc requestDocument
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return ciba.Request{}, err
	}
	return doc.toRequest(), nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (ciba.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc requestDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return ciba.Request{}, ciba.ErrRequestNotFound
		}
		return ciba.Request{}, err
	}
	return doc.toRequest(), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type requestDocument struct {
	ID             string      `bson:"_id"`
	ToolCallKey    string      `bson:"tool_call_key"`
	Subject        string      `bson:"subject"`
	BindingMessage string      `bson:"binding_message"`
	Scopes         []string    `bson:"scopes"`
	Audience       string      `bson:"audience,omitempty"`
	Status         ciba.Status `bson:"status"`
	IntervalMS     int64       `bson:"interval_ms"`
	CreatedAt      time.Time   `bson:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at"`
	ExpiresAt      time.Time   `bson:"expires_at"`
	ResolvedAt     *time.Time  `bson:"resolved_at,omitempty"`
	Consumed       bool        `bson:"consumed"`
	ConsumedAt     *time.Time  `bson:"consumed_at,omitempty"`
}

func fromRequest(r ciba.Request) requestDocument {
	return requestDocument{
		ID:             r.ID,
		ToolCallKey:    r.ToolCallKey,
		Subject:        r.Subject,
		BindingMessage: r.BindingMessage,
		Scopes:         append([]string(nil), r.Scopes...),
		Audience:       r.Audience,
		Status:         r.Status,
		IntervalMS:     r.Interval.Milliseconds(),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
		ResolvedAt:     utcPtr(r.ResolvedAt),
		Consumed:       r.Consumed,
		ConsumedAt:     utcPtr(r.ConsumedAt),
	}
}

func (d requestDocument) toRequest() ciba.Request {
	return ciba.Request{
		ID:             d.ID,
		ToolCallKey:    d.ToolCallKey,
		Subject:        d.Subject,
		BindingMessage: d.BindingMessage,
		Scopes:         d.Scopes,
		Audience:       d.Audience,
		Status:         d.Status,
		Interval:       time.Duration(d.IntervalMS) * time.Millisecond,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
		ExpiresAt:      d.ExpiresAt.UTC(),
		ResolvedAt:     utcPtr(d.ResolvedAt),
		Consumed:       d.Consumed,
		ConsumedAt:     utcPtr(d.ConsumedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ ciba.Store = (*Store)(nil)
