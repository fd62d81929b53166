package memengine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

var errClientClosed = fmt.Errorf("%w: client closed", docstore.ErrOperationFailed)

var (
	_ docstore.Driver   = (*Driver)(nil)
	_ docstore.Client   = (*Client)(nil)
	_ docstore.Database = (*Database)(nil)
)

// Driver connects clients to named in-memory stores.
type Driver struct {
	stores *xsync.MapOf[string, *store]
}

// NewDriver creates a Driver without any stores.
func NewDriver() *Driver {
	return &Driver{stores: xsync.NewMapOf[string, *store]()}
}

// Connect returns a Client on the store named by config. Stores are created on first use.
// config must be a memengine.ClientConfig.
func (d *Driver) Connect(ctx context.Context, config docstore.ClientConfig) (docstore.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	memConfig, ok := config.(ClientConfig)
	if !ok {
		return nil, fmt.Errorf("%w: memengine requires a memengine.ClientConfig, got %T", docstore.ErrInvalidArgument, config)
	}

	if memConfig.Name() == "" {
		return nil, docstore.ErrEmptyClientFingerprint
	}

	s, _ := d.stores.LoadOrCompute(memConfig.Name(), newStore)

	return &Client{store: s}, nil
}

// Client is a handle on one in-memory store.
type Client struct {
	store  *store
	closed atomic.Bool
}

// Database returns the database handle for name.
func (c *Client) Database(name string) (docstore.Database, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, docstore.ErrEmptyDatabaseName
	}

	return &Database{client: c, name: name}, nil
}

// StartSession creates a new session without a transaction.
func (c *Client) StartSession(ctx context.Context) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.closed.Load() {
		return nil, errClientClosed
	}

	return newSession(c), nil
}

// Close marks the client as closed; later operations fail.
func (c *Client) Close() {
	c.closed.Store(true)
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return errClientClosed
	}

	return nil
}

// Database is a namespace of collections.
type Database struct {
	client *Client
	name   string
}

func (db *Database) Name() string {
	return db.name
}

// Collection returns the handle of collection name. The collection does not need to exist.
func (db *Database) Collection(name string) (docstore.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, docstore.ErrEmptyCollectionName
	}

	return &Collection{
		client: db.client,
		target: collectionKey{database: strings.ToLower(db.name), collection: name},
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
func (db *Database) EnsureCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return docstore.ErrEmptyCollectionName
	}

	if err := db.client.checkOpen(); err != nil {
		return err
	}

	db.client.store.ensure(collectionKey{database: strings.ToLower(db.name), collection: name})

	return nil
}
