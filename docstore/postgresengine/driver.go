package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/postgresengine/internal/adapters"
)

var errClientClosed = fmt.Errorf("%w: client closed", docstore.ErrOperationFailed)

var (
	_ docstore.Driver   = (*Driver)(nil)
	_ docstore.Client   = (*Client)(nil)
	_ docstore.Database = (*Database)(nil)
)

// Driver opens PostgreSQL connection pools.
type Driver struct {
	logger           docstore.Logger
	contextualLogger docstore.ContextualLogger
	metricsCollector docstore.MetricsCollector
	tracingCollector docstore.TracingCollector
}

// NewDriver creates a Driver with optional observability.
func NewDriver(options ...Option) (*Driver, error) {
	d := &Driver{}

	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Connect opens a connection pool with the library selected by config and checks that the server responds.
// config must be a postgresengine.ClientConfig.
func (d *Driver) Connect(ctx context.Context, config docstore.ClientConfig) (docstore.Client, error) {
	pgConfig, ok := config.(ClientConfig)
	if !ok {
		return nil, fmt.Errorf("%w: postgresengine requires a postgresengine.ClientConfig, got %T", docstore.ErrInvalidArgument, config)
	}

	if pgConfig.pool == nil {
		return nil, docstore.ErrEmptyClientFingerprint
	}

	adapter, err := d.open(ctx, pgConfig)
	if err != nil {
		return nil, err
	}

	if err := adapter.Ping(ctx); err != nil {
		_ = adapter.Close()
		return nil, docstore.OperationFailed(err)
	}

	return d.NewClient(adapter), nil
}

func (d *Driver) open(ctx context.Context, config ClientConfig) (adapters.DBAdapter, error) {
	switch config.adapter {
	case AdapterPGX:
		pool, err := pgxpool.NewWithConfig(ctx, config.poolConfig())
		if err != nil {
			return nil, docstore.OperationFailed(err)
		}

		return adapters.NewPGXAdapter(pool), nil

	case AdapterSQL:
		db, err := openStd(config)
		if err != nil {
			return nil, err
		}

		return adapters.NewSQLAdapter(db), nil

	case AdapterSQLX:
		db, err := openStd(config)
		if err != nil {
			return nil, err
		}

		return adapters.NewSQLXAdapter(sqlx.NewDb(db, "postgres")), nil

	default:
		return nil, fmt.Errorf("%w: %q", docstore.ErrUnsupportedAdapterType, config.adapter)
	}
}

// openStd opens a database/sql handle on lib/pq with the dialer and pool limits of the parsed pgxpool config.
func openStd(config ClientConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(config.dsn)
	if err != nil {
		return nil, errors.Join(ErrInvalidDSN, err)
	}

	connector.Dialer(pqDialer{Dialer: config.dialer()})

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(config.maxPoolSize)
	db.SetMaxIdleConns(config.maxPoolSize)
	db.SetConnMaxLifetime(config.pool.MaxConnLifetime)
	db.SetConnMaxIdleTime(config.pool.MaxConnIdleTime)

	return db, nil
}

// pqDialer adapts net.Dialer to pq.Dialer.
type pqDialer struct {
	*net.Dialer
}

func (d pqDialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	dialer := *d.Dialer
	dialer.Timeout = timeout

	return dialer.Dial(network, address)
}

// NewClient wraps an already opened adapter. Connect uses it; tests use it to inject adapters.
func (d *Driver) NewClient(adapter adapters.DBAdapter) *Client {
	return &Client{
		db:               adapter,
		ensured:          xsync.NewMapOf[string, struct{}](),
		logger:           d.logger,
		contextualLogger: d.contextualLogger,
		metricsCollector: d.metricsCollector,
		tracingCollector: d.tracingCollector,
	}
}

// Client is a PostgreSQL connection pool.
type Client struct {
	db      adapters.DBAdapter
	ensured *xsync.MapOf[string, struct{}]
	closed  atomic.Bool

	logger           docstore.Logger
	contextualLogger docstore.ContextualLogger
	metricsCollector docstore.MetricsCollector
	tracingCollector docstore.TracingCollector
}

// Database returns the handle of the schema name. Schema names are case-sensitive in SQL but
// the registries treat database names case-insensitively, so the name is lower-cased.
func (c *Client) Database(name string) (docstore.Database, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, docstore.ErrEmptyDatabaseName
	}

	return &Database{client: c, schema: name}, nil
}

// StartSession creates a session. Sessions hold no connection until a transaction starts.
func (c *Client) StartSession(ctx context.Context) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	return newSession(c), nil
}

// Close closes the connection pool.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}

	if err := c.db.Close(); err != nil {
		c.logWarn(context.Background(), logMsgCloseClientFailed, logAttrError, err.Error())
	}
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return errClientClosed
	}

	return nil
}

// Database is a PostgreSQL schema; its collections are tables.
type Database struct {
	client *Client
	schema string
}

func (db *Database) Name() string {
	return db.schema
}

// Collection returns the handle of collection name. The table is created on first use.
func (db *Database) Collection(name string) (docstore.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, docstore.ErrEmptyCollectionName
	}

	return &Collection{client: db.client, schema: db.schema, table: name}, nil
}

// EnsureCollection creates the schema and the table of collection name if they do not exist.
func (db *Database) EnsureCollection(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return docstore.ErrEmptyCollectionName
	}

	return db.client.ensureTable(ctx, db.schema, name)
}

// ensureTable runs the DDL of schema.table once per client. Concurrent first calls may both run it;
// the statements are idempotent.
func (c *Client) ensureTable(ctx context.Context, schema, table string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	key := pgx.Identifier{schema, table}.Sanitize()
	if _, ok := c.ensured.Load(key); ok {
		return nil
	}

	for _, statement := range createTableStatements(schema, table) {
		start := time.Now()
		_, err := c.db.Exec(ctx, statement)
		c.logQueryWithDuration(ctx, statement, operationEnsureCollection, time.Since(start))

		if err != nil && !isAlreadyExists(err) {
			c.logError(ctx, logMsgEnsureCollectionFailed, err, logAttrCollection, key)
			return mapError(err)
		}
	}

	c.ensured.Store(key, struct{}{})

	return nil
}
