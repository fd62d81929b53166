package registry

import (
	"context"
	"strings"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/throttle"
)

// Resource kinds, used as the "kind" attribute when a registration is logged.
const (
	KindClient     = "client"
	KindDatabase   = "database"
	KindOptions    = "options"
	KindSemaphore  = "semaphore"
	KindConnection = "connection"
)

// RegistrationHook is notified once per newly registered resource.
type RegistrationHook func(kind, key string)

func (h RegistrationHook) forKind(kind string) func(key string) {
	if h == nil {
		return nil
	}

	return func(key string) { h(kind, key) }
}

/***** ClientRegistry *****/

// ClientRegistry deduplicates driver clients by configuration fingerprint.
type ClientRegistry struct {
	clients *Registry[docstore.Client]
}

// NewClientRegistry creates an empty ClientRegistry.
func NewClientRegistry(hook RegistrationHook) *ClientRegistry {
	return &ClientRegistry{clients: NewRegistry[docstore.Client](hook.forKind(KindClient))}
}

// GetOrCreate returns the client for config, connecting with driver on first access.
// A failed connect is returned joined with ErrOperationFailed and leaves no entry, so a later call retries.
func (r *ClientRegistry) GetOrCreate(ctx context.Context, config docstore.ClientConfig, driver docstore.Driver) (docstore.Client, error) {
	key, err := ClientKey(config)
	if err != nil {
		return nil, err
	}

	if driver == nil {
		return nil, docstore.ErrNilDriver
	}

	return r.clients.GetOrCreate(key, func() (docstore.Client, error) {
		client, connectErr := driver.Connect(ctx, config)
		if connectErr != nil {
			return nil, docstore.OperationFailed(connectErr)
		}

		return client, nil
	})
}

// Size returns the number of registered clients.
func (r *ClientRegistry) Size() int {
	return r.clients.Size()
}

// CloseAll closes every registered client. The entries stay registered.
func (r *ClientRegistry) CloseAll() {
	r.clients.Range(func(_ string, client docstore.Client) bool {
		client.Close()
		return true
	})
}

/***** DatabaseRegistry *****/

// DatabaseRegistry deduplicates database handles by client key and case-insensitive database name.
type DatabaseRegistry struct {
	databases *Registry[docstore.Database]
}

// NewDatabaseRegistry creates an empty DatabaseRegistry.
func NewDatabaseRegistry(hook RegistrationHook) *DatabaseRegistry {
	return &DatabaseRegistry{databases: NewRegistry[docstore.Database](hook.forKind(KindDatabase))}
}

// GetOrCreate returns the database handle named databaseName of the client identified by clientKey.
func (r *DatabaseRegistry) GetOrCreate(clientKey string, client docstore.Client, databaseName string) (docstore.Database, error) {
	key, err := DatabaseKey(clientKey, databaseName)
	if err != nil {
		return nil, err
	}

	if client == nil {
		return nil, docstore.ErrNilDatabaseConnection
	}

	return r.databases.GetOrCreate(key, func() (docstore.Database, error) {
		database, openErr := client.Database(strings.TrimSpace(databaseName))
		if openErr != nil {
			return nil, docstore.OperationFailed(openErr)
		}

		return database, nil
	})
}

// Size returns the number of registered database handles.
func (r *DatabaseRegistry) Size() int {
	return r.databases.Size()
}

/***** OptionsRegistry *****/

// OptionsRegistry deduplicates ContextOptions by case-insensitive context id.
// The first registered instance wins; later registrations with the same id are discarded.
type OptionsRegistry struct {
	options *Registry[*docstore.ContextOptions]
}

// NewOptionsRegistry creates an empty OptionsRegistry.
func NewOptionsRegistry(hook RegistrationHook) *OptionsRegistry {
	return &OptionsRegistry{options: NewRegistry[*docstore.ContextOptions](hook.forKind(KindOptions))}
}

// GetOrCreate registers options unless options for the same context id exist, and returns the registered instance.
func (r *OptionsRegistry) GetOrCreate(options *docstore.ContextOptions) (*docstore.ContextOptions, error) {
	if options == nil {
		return nil, docstore.ErrNilContextOptions
	}

	key := options.Key()
	if key == "" {
		return nil, docstore.ErrEmptyContextID
	}

	return r.options.GetOrCreate(key, func() (*docstore.ContextOptions, error) {
		return options, nil
	})
}

// Get returns the options registered for contextID, if any.
func (r *OptionsRegistry) Get(contextID string) (*docstore.ContextOptions, bool) {
	return r.options.Get(docstore.NormalizeKey(contextID))
}

// Size returns the number of registered options.
func (r *OptionsRegistry) Size() int {
	return r.options.Size()
}

/***** SemaphoreRegistry *****/

// SemaphoreRegistry deduplicates admission-control semaphores by cluster fingerprint,
// so all contexts pointed at the same cluster share one budget.
type SemaphoreRegistry struct {
	semaphores *Registry[throttle.Semaphore]
}

// NewSemaphoreRegistry creates an empty SemaphoreRegistry.
func NewSemaphoreRegistry(hook RegistrationHook) *SemaphoreRegistry {
	return &SemaphoreRegistry{semaphores: NewRegistry[throttle.Semaphore](hook.forKind(KindSemaphore))}
}

// GetOrCreate returns the semaphore of the cluster, creating it with maxConcurrentRequests permits on first access.
// The bound of the first registration wins.
func (r *SemaphoreRegistry) GetOrCreate(clusterFingerprint string, maxConcurrentRequests int) (throttle.Semaphore, error) {
	if strings.TrimSpace(clusterFingerprint) == "" {
		return nil, docstore.ErrEmptyClusterAddresses
	}

	return r.semaphores.GetOrCreate(clusterFingerprint, func() (throttle.Semaphore, error) {
		return throttle.New(maxConcurrentRequests), nil
	})
}

// Size returns the number of registered semaphores.
func (r *SemaphoreRegistry) Size() int {
	return r.semaphores.Size()
}
