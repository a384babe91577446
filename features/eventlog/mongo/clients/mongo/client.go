// Package mongo implements the MongoDB client behind the conversation event
// log.
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

	"goa.design/clue/health"

	"github.com/assistant0/assistant0/runtime/agent/eventlog"
	"github.com/assistant0/assistant0/runtime/agent/stream"
)

type (
	// Client exposes Mongo-backed operations for the event log.
	Client interface {
		health.Pinger

		Append(ctx context.Context, e *eventlog.Event) error
		List(ctx context.Context, conversationID, cursor string, limit int) (eventlog.Page, error)
	}

	// Options configures the client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
		// Retention expires events this long after they were recorded. Zero
		// keeps them.
		Retention time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	eventDocument struct {
		ID             bson.ObjectID `bson:"_id,omitempty"`
		ConversationID string        `bson:"conversation_id"`
		TurnID         string        `bson:"turn_id,omitempty"`
		Type           string        `bson:"type"`
		Payload        []byte        `bson:"payload"`
		Timestamp      time.Time     `bson:"timestamp"`
	}
)

const (
	defaultCollection = "conversation_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "eventlog-mongo"
)

// New returns a Client and ensures the collection indexes.
func New(ctx context.Context, opts Options) (Client, error) {
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
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	c := newClientWithCollection(opts.Client, coll, opts.Timeout)
	ictx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := ensureIndexes(ictx, coll, opts.Retention); err != nil {
		return nil, fmt.Errorf("ensure event log indexes: %w", err)
	}
	return c, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, e *eventlog.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := eventDocument{
		ConversationID: e.ConversationID,
		TurnID:         e.TurnID,
		Type:           string(e.Type),
		Payload:        append([]byte(nil), e.Payload...),
		Timestamp:      e.Timestamp.UTC(),
	}
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	e.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, conversationID, cursor string, limit int) (page eventlog.Page, err error) {
	if conversationID == "" {
		return eventlog.Page{}, errors.New("conversation id is required")
	}
	if limit <= 0 {
		return eventlog.Page{}, errors.New("limit must be > 0")
	}

	filter := bson.M{"conversation_id": conversationID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return eventlog.Page{}, fmt.Errorf("%w: %q", eventlog.ErrInvalidCursor, cursor)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)),
	)
	if err != nil {
		return eventlog.Page{}, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var events []*eventlog.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return eventlog.Page{}, err
		}
		events = append(events, &eventlog.Event{
			ID:             doc.ID.Hex(),
			ConversationID: doc.ConversationID,
			TurnID:         doc.TurnID,
			Type:           stream.EventType(doc.Type),
			Payload:        append([]byte(nil), doc.Payload...),
			Timestamp:      doc.Timestamp,
		})
	}
	if err := cur.Err(); err != nil {
		return eventlog.Page{}, err
	}

	var next string
	if len(events) > limit {
		next = events[limit-1].ID
		events = events[:limit]
	}
	return eventlog.Page{Events: events, NextCursor: next}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection, retention time.Duration) error {
	models := []mongodriver.IndexModel{{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	}}
	if retention > 0 {
		models = append(models, mongodriver.IndexModel{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
		})
	}
	return coll.CreateIndexes(ctx, models)
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}
}

type collection interface {
	InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateMany(ctx, models)
	return err
}
