package registry

import (
	"context"
	"strings"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/throttle"
)

const (
	logMsgResourceRegistered = "resource registered"
	logMsgClientsClosed      = "resource manager closed"
	logAttrKind              = "kind"
	logAttrKey               = "key"
	logAttrClientCount       = "client_count"
)

// ConnectionRequest holds the configuration inputs of a context.
type ConnectionRequest struct {
	ClientConfig docstore.ClientConfig
	DatabaseName string
	Options      *docstore.ContextOptions
}

// Validate fails fast on missing or empty inputs, before any resource is touched.
func (r ConnectionRequest) Validate() error {
	if _, err := ClientKey(r.ClientConfig); err != nil {
		return err
	}

	if strings.TrimSpace(r.DatabaseName) == "" {
		return docstore.ErrEmptyDatabaseName
	}

	if r.Options == nil {
		return docstore.ErrNilContextOptions
	}

	if r.Options.Key() == "" {
		return docstore.ErrEmptyContextID
	}

	return nil
}

// Connection is the cached (client, database, options, semaphore) tuple of one context id.
type Connection struct {
	clientKey          string
	clusterFingerprint string
	client             docstore.Client
	database           docstore.Database
	options            *docstore.ContextOptions
	semaphore          throttle.Semaphore
}

func (c *Connection) ClientKey() string {
	return c.clientKey
}

func (c *Connection) ClusterFingerprint() string {
	return c.clusterFingerprint
}

func (c *Connection) Client() docstore.Client {
	return c.client
}

func (c *Connection) Database() docstore.Database {
	return c.database
}

func (c *Connection) Options() *docstore.ContextOptions {
	return c.options
}

func (c *Connection) Semaphore() throttle.Semaphore {
	return c.semaphore
}

// Stats reports the number of entries per registry.
type Stats struct {
	Clients     int
	Databases   int
	Options     int
	Semaphores  int
	Connections int
}

// ResourceManager owns the process-wide resource registries. Construct one per process and inject it
// into every context; tests construct isolated managers.
type ResourceManager struct {
	driver           docstore.Driver
	clients          *ClientRegistry
	databases        *DatabaseRegistry
	options          *OptionsRegistry
	semaphores       *SemaphoreRegistry
	connections      *Registry[*Connection]
	logger           docstore.Logger
	contextualLogger docstore.ContextualLogger
}

// Option defines a functional option for configuring ResourceManager.
type Option func(*ResourceManager) error

// WithLogger sets the logger for the ResourceManager.
// Info level: first registration of a client, database, options, semaphore or connection.
func WithLogger(logger docstore.Logger) Option {
	return func(m *ResourceManager) error {
		m.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the ResourceManager.
func WithContextualLogger(logger docstore.ContextualLogger) Option {
	return func(m *ResourceManager) error {
		m.contextualLogger = logger
		return nil
	}
}

// NewResourceManager creates a ResourceManager connecting clients with driver.
func NewResourceManager(driver docstore.Driver, options ...Option) (*ResourceManager, error) {
	if driver == nil {
		return nil, docstore.ErrNilDriver
	}

	m := &ResourceManager{driver: driver}

	for _, option := range options {
		if err := option(m); err != nil {
			return nil, err
		}
	}

	hook := RegistrationHook(m.logRegistered)
	m.clients = NewClientRegistry(hook)
	m.databases = NewDatabaseRegistry(hook)
	m.options = NewOptionsRegistry(hook)
	m.semaphores = NewSemaphoreRegistry(hook)
	m.connections = NewRegistry[*Connection](hook.forKind(KindConnection))

	return m, nil
}

// Connection returns the Connection of the request's context id, resolving and registering
// options, client, database and semaphore on first access.
//
// Exactly one Connection exists per (case-insensitive) context id, even when called concurrently.
// Once registered, the Connection of a context id is returned regardless of the other request inputs.
func (m *ResourceManager) Connection(ctx context.Context, request ConnectionRequest) (*Connection, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	return m.connections.GetOrCreate(request.Options.Key(), func() (*Connection, error) {
		return m.buildConnection(ctx, request)
	})
}

func (m *ResourceManager) buildConnection(ctx context.Context, request ConnectionRequest) (*Connection, error) {
	options, err := m.options.GetOrCreate(request.Options)
	if err != nil {
		return nil, err
	}

	clientKey, err := ClientKey(request.ClientConfig)
	if err != nil {
		return nil, err
	}

	client, err := m.clients.GetOrCreate(ctx, request.ClientConfig, m.driver)
	if err != nil {
		return nil, err
	}

	database, err := m.databases.GetOrCreate(clientKey, client, request.DatabaseName)
	if err != nil {
		return nil, err
	}

	clusterFingerprint := ClusterFingerprint(request.ClientConfig.ServerAddresses())
	semaphore, err := m.semaphores.GetOrCreate(
		clusterFingerprint,
		options.EffectiveMaxConcurrentRequests(request.ClientConfig.MaxPoolSize()),
	)
	if err != nil {
		return nil, err
	}

	return &Connection{
		clientKey:          clientKey,
		clusterFingerprint: clusterFingerprint,
		client:             client,
		database:           database,
		options:            options,
		semaphore:          semaphore,
	}, nil
}

// Options returns the registry of ContextOptions.
func (m *ResourceManager) Options() *OptionsRegistry {
	return m.options
}

// Stats reports the number of entries per registry.
func (m *ResourceManager) Stats() Stats {
	return Stats{
		Clients:     m.clients.Size(),
		Databases:   m.databases.Size(),
		Options:     m.options.Size(),
		Semaphores:  m.semaphores.Size(),
		Connections: m.connections.Size(),
	}
}

// Close closes every registered client. It is meant to be called once at process shutdown.
func (m *ResourceManager) Close() {
	m.clients.CloseAll()

	if m.logger != nil {
		m.logger.Info(logMsgClientsClosed, logAttrClientCount, m.clients.Size())
	}
}

func (m *ResourceManager) logRegistered(kind, key string) {
	if m.logger != nil {
		m.logger.Info(logMsgResourceRegistered, logAttrKind, kind, logAttrKey, key)
	}

	if m.contextualLogger != nil {
		m.contextualLogger.InfoContext(context.Background(), logMsgResourceRegistered, logAttrKind, kind, logAttrKey, key)
	}
}
