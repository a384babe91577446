// Package mongo hosts the MongoDB client used by the conversation store.
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

	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/session"
)

const (
	defaultConversationsCollection = "conversations"
	defaultOpTimeout               = 5 * time.Second
	sessionClientName              = "session-mongo"
)

// Client exposes Mongo-backed conversation persistence.
type Client interface {
	health.Pinger

	CreateConversation(ctx context.Context, c session.Conversation) (session.Conversation, error)
	LoadConversation(ctx context.Context, id string) (session.Conversation, error)
	SaveConversation(ctx context.Context, c session.Conversation) (session.Conversation, error)
	ClaimPending(ctx context.Context, id, toolCallID string) (session.Conversation, session.PendingCall, error)
}

// Options configures the Mongo session client.
type Options struct {
	Client                  *mongodriver.Client
	Database                string
	ConversationsCollection string
	Timeout                 time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type client struct {
	mongo         *mongodriver.Client
	conversations *mongodriver.Collection
	timeout       time.Duration
	now           func() time.Time
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.ConversationsCollection
	if name == "" {
		name = defaultConversationsCollection
	}
	c := &client{
		mongo:         opts.Client,
		conversations: opts.Client.Database(opts.Database).Collection(name),
		timeout:       opts.Timeout,
		now:           opts.Now,
	}
	if c.timeout <= 0 {
		c.timeout = defaultOpTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := ensureIndexes(ctx, c.conversations); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string {
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) CreateConversation(ctx context.Context, conv session.Conversation) (session.Conversation, error) {
	if conv.ID == "" {
		return session.Conversation{}, errors.New("conversation id is required")
	}
	now := c.now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.Status == "" {
		conv.Status = session.StatusActive
	}
	conv.UpdatedAt = now
	conv.Version = 1
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.conversations.InsertOne(ctx, fromConversation(conv)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return session.Conversation{}, session.ErrConversationExists
		}
		return session.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv.Clone(), nil
}

func (c *client) LoadConversation(ctx context.Context, id string) (session.Conversation, error) {
	if id == "" {
		return session.Conversation{}, errors.New("conversation id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc conversationDocument
	if err := c.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Conversation{}, session.ErrConversationNotFound
		}
		return session.Conversation{}, err
	}
	return doc.toConversation(), nil
}

// SaveConversation replaces the document only when its stored version still
// matches conv.Version.
func (c *client) SaveConversation(ctx context.Context, conv session.Conversation) (session.Conversation, error) {
	if conv.ID == "" {
		return session.Conversation{}, errors.New("conversation id is required")
	}
	expected := conv.Version
	conv.Version++
	conv.UpdatedAt = c.now().UTC()
	doc := fromConversation(conv)
	tctx, cancel := c.withTimeout(ctx)
	defer cancel()
	// created_at is immutable; keep the stored value.
	update := bson.M{"$set": bson.M{
		"subject":    doc.Subject,
		"status":     doc.Status,
		"turn":       doc.Turn,
		"messages":   doc.Messages,
		"pending":    doc.Pending,
		"version":    doc.Version,
		"updated_at": doc.UpdatedAt,
	}}
	res, err := c.conversations.UpdateOne(tctx, bson.M{"_id": conv.ID, "version": expected}, update)
	if err != nil {
		return session.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := c.LoadConversation(ctx, conv.ID); err != nil {
			return session.Conversation{}, err
		}
		return session.Conversation{}, session.ErrConflict
	}
	return conv.Clone(), nil
}

// ClaimPending clears the pending call with a single conditional update so
// concurrent claims observe exactly one winner.
func (c *client) ClaimPending(ctx context.Context, id, toolCallID string) (session.Conversation, session.PendingCall, error) {
	if id == "" || toolCallID == "" {
		return session.Conversation{}, session.PendingCall{}, errors.New("conversation and tool call ids are required")
	}
	now := c.now().UTC()
	tctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": id, "pending.call.id": toolCallID}
	update := bson.M{
		"$set": bson.M{"pending": nil, "status": session.StatusActive, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var before conversationDocument
	if err := c.conversations.FindOneAndUpdate(tctx, filter, update, opts).Decode(&before); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			if _, lerr := c.LoadConversation(ctx, id); lerr != nil {
				return session.Conversation{}, session.PendingCall{}, lerr
			}
			return session.Conversation{}, session.PendingCall{}, session.ErrNoPendingCall
		}
		return session.Conversation{}, session.PendingCall{}, fmt.Errorf("claim pending call: %w", err)
	}
	conv := before.toConversation()
	pending := conv.Pending.Clone()
	conv.Pending = nil
	conv.Status = session.StatusActive
	conv.Version++
	conv.UpdatedAt = now
	return conv, pending, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type conversationDocument struct {
	ID        string           `bson:"_id"`
	Subject   string           `bson:"subject"`
	Status    session.Status   `bson:"status"`
	Turn      int              `bson:"turn"`
	Messages  []model.Message  `bson:"messages"`
	Pending   *pendingDocument `bson:"pending"`
	Version   int64            `bson:"version"`
	CreatedAt time.Time        `bson:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

type pendingDocument struct {
	Call       model.ToolCall   `bson:"call"`
	Remaining  []model.ToolCall `bson:"remaining,omitempty"`
	Turn       int              `bson:"turn"`
	Position   int              `bson:"position"`
	Kind       string           `bson:"kind"`
	Connection string           `bson:"connection,omitempty"`
	AuthReqID  string           `bson:"auth_req_id,omitempty"`
	CreatedAt  time.Time        `bson:"created_at"`
}

func fromConversation(c session.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:        c.ID,
		Subject:   c.Subject,
		Status:    c.Status,
		Turn:      c.Turn,
		Messages:  c.Clone().Messages,
		Version:   c.Version,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
	if doc.Messages == nil {
		doc.Messages = []model.Message{}
	}
	if p := c.Pending; p != nil {
		cp := p.Clone()
		doc.Pending = &pendingDocument{
			Call:       cp.Call,
			Remaining:  cp.Remaining,
			Turn:       cp.Turn,
			Position:   cp.Position,
			Kind:       cp.Kind,
			Connection: cp.Connection,
			AuthReqID:  cp.AuthReqID,
			CreatedAt:  cp.CreatedAt.UTC(),
		}
	}
	return doc
}

func (doc conversationDocument) toConversation() session.Conversation {
	c := session.Conversation{
		ID:        doc.ID,
		Subject:   doc.Subject,
		Status:    doc.Status,
		Turn:      doc.Turn,
		Messages:  doc.Messages,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	if p := doc.Pending; p != nil {
		c.Pending = &session.PendingCall{
			Call:       p.Call,
			Remaining:  p.Remaining,
			Turn:       p.Turn,
			Position:   p.Position,
			Kind:       p.Kind,
			Connection: p.Connection,
			AuthReqID:  p.AuthReqID,
			CreatedAt:  p.CreatedAt.UTC(),
		}
	}
	return c
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	idx := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "updated_at", Value: -1}}},
		{
			Keys:    bson.D{{Key: "pending.auth_req_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	return nil
}
