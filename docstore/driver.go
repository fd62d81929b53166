package docstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// ClientConfig describes how to reach a cluster. Drivers provide concrete implementations.
type ClientConfig interface {
	// Fingerprint returns the serialized settings. Equal fingerprints resolve to one shared Client.
	Fingerprint() string

	// ServerAddresses returns the host:port list of the cluster, used to share one admission-control budget.
	ServerAddresses() []string

	// MaxPoolSize returns the driver connection pool size.
	MaxPoolSize() int
}

// Driver connects to a cluster and returns a Client (connection pool).
type Driver interface {
	Connect(ctx context.Context, config ClientConfig) (Client, error)
}

// Client is an opaque driver connection pool. It is shared by reference and lives as long as the process.
type Client interface {
	Database(name string) (Database, error)
	StartSession(ctx context.Context) (Session, error)
	Close()
}

// Database is a handle scoped to a client and a database name.
type Database interface {
	Name() string
	Collection(name string) (Collection, error)
	EnsureCollection(ctx context.Context, name string) error
}

// Collection exposes the read, write and aggregate operations of one document collection.
//
// When ctx carries a Session (see WithSession) that belongs to the same client and has an open transaction,
// implementations execute the operation inside that transaction.
type Collection interface {
	Name() string
	Find(ctx context.Context, query Query) ([]Document, error)
	FindOne(ctx context.Context, id string) (Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	InsertOne(ctx context.Context, document Document) error
	InsertMany(ctx context.Context, documents []Document) error
	ReplaceOne(ctx context.Context, document Document) (int64, error)
	DeleteOne(ctx context.Context, id string) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	BulkWrite(ctx context.Context, models []WriteModel) (BulkWriteResult, error)
	Aggregate(ctx context.Context, query AggregateQuery) ([]AggregateRow, error)
}

// Session wraps a native session/transaction handle.
type Session interface {
	ID() string
	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	InTransaction() bool

	// EndSession disposes the session. An open transaction is rolled back.
	EndSession(ctx context.Context)
}

// Document is the storage representation of an entity: its id and its JSON body.
type Document struct {
	ID   string
	Body []byte
}

// BuildDocument is a factory method for Document.
// Returns ErrEmptyDocumentID or ErrInvalidDocumentJSON for invalid input.
func BuildDocument(id string, body []byte) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, ErrEmptyDocumentID
	}

	if !jsoniter.Valid(body) {
		return Document{}, ErrInvalidDocumentJSON
	}

	return Document{ID: id, Body: body}, nil
}

// NewDocumentID returns a new random document id.
func NewDocumentID() string {
	return uuid.NewString()
}

// WriteKind selects the operation of a WriteModel.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteReplace
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteInsert:
		return "insert"
	case WriteReplace:
		return "replace"
	case WriteDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WriteModel is one operation of a BulkWrite. Delete models only need Document.ID.
type WriteModel struct {
	Kind     WriteKind
	Document Document
}

// BulkWriteResult reports the affected document counts of a BulkWrite.
type BulkWriteResult struct {
	Inserted int64
	Replaced int64
	Deleted  int64
}

// AggregateQuery groups the documents matching Filter by the top-level field GroupBy.
type AggregateQuery struct {
	Filter  Filter
	GroupBy string
}

// AggregateRow is one group of an Aggregate result.
type AggregateRow struct {
	Key   string
	Count int64
}

type sessionContextKey struct{}

// WithSession returns a context that binds operations executed with it to the given session.
func WithSession(ctx context.Context, session Session) context.Context {
	if session == nil {
		return ctx
	}

	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext extracts the session bound with WithSession, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(Session)
	return session, ok
}
