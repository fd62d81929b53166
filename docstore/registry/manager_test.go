package registry_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/memengine"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/registry"
	"github.com/AntonStoeckl/docstore-uow-go/testutil/faultdriver"
	"github.com/AntonStoeckl/docstore-uow-go/testutil/observability/testdoubles"
)

func newManager(t *testing.T, options ...registry.Option) (*registry.ResourceManager, *faultdriver.Driver) {
	t.Helper()

	driver := faultdriver.Wrap(memengine.NewDriver())
	manager, err := registry.NewResourceManager(driver, options...)
	require.NoError(t, err)

	return manager, driver
}

func request(t *testing.T, contextID string, config docstore.ClientConfig, options ...docstore.ContextOption) registry.ConnectionRequest {
	t.Helper()

	contextOptions, err := docstore.NewContextOptions(contextID, options...)
	require.NoError(t, err)

	return registry.ConnectionRequest{
		ClientConfig: config,
		DatabaseName: "library",
		Options:      contextOptions,
	}
}

func Test_ResourceManager_DeduplicatesClients_ByFingerprint(t *testing.T) {
	// arrange
	ctx := context.Background()
	manager, driver := newManager(t)

	// act
	a, errA := manager.Connection(ctx, request(t, "A", memengine.NewClientConfig("cluster")))
	b, errB := manager.Connection(ctx, request(t, "B", memengine.NewClientConfig("cluster")))
	c, errC := manager.Connection(ctx, request(t, "C", memengine.NewClientConfig("cluster", memengine.WithMaxPoolSize(32))))

	// assert
	require.NoError(t, errA)
	require.NoError(t, errB)
	require.NoError(t, errC)
	assert.Same(t, a.Client(), b.Client(), "identical settings share one client")
	assert.Same(t, a.Database(), b.Database())
	assert.NotSame(t, a.Client(), c.Client(), "different settings get a distinct client")
	assert.Equal(t, int64(2), driver.Calls(faultdriver.OpConnect))
	assert.Equal(t, registry.Stats{Clients: 2, Databases: 2, Options: 3, Semaphores: 1, Connections: 3}, manager.Stats())
}

func Test_ResourceManager_Connection_IsUniquePerContextID_UnderConcurrency(t *testing.T) {
	// arrange
	ctx := context.Background()
	manager, driver := newManager(t)
	config := memengine.NewClientConfig("cluster")

	const callers = 32
	connections := make([]*registry.Connection, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup

	// act
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			connection, err := manager.Connection(ctx, request(t, "A", config))
			assert.NoError(t, err)
			connections[i] = connection
		}()
	}
	close(start)
	wg.Wait()

	// assert
	for _, connection := range connections {
		assert.Same(t, connections[0], connection)
	}
	assert.Equal(t, int64(1), driver.Calls(faultdriver.OpConnect))
	assert.Equal(t, 1, manager.Stats().Connections)
}

func Test_ResourceManager_Connection_IsCaseInsensitive_AndFirstOptionsWin(t *testing.T) {
	// arrange
	ctx := context.Background()
	manager, _ := newManager(t)
	config := memengine.NewClientConfig("cluster")

	// act
	first, _ := manager.Connection(ctx, request(t, "Orders", config, docstore.WithAcceptAllChangesOnSave(false)))
	second, _ := manager.Connection(ctx, request(t, "orders", config, docstore.WithAcceptAllChangesOnSave(true)))

	// assert
	assert.Same(t, first, second)
	assert.False(t, second.Options().AcceptAllChangesOnSave())
}

func Test_ResourceManager_SharesSemaphore_PerCluster(t *testing.T) {
	// arrange
	ctx := context.Background()
	manager, _ := newManager(t)
	configA := memengine.NewClientConfig("a", memengine.WithServers("db2:5432", "db1:5432"), memengine.WithMaxPoolSize(10))
	configB := memengine.NewClientConfig("b", memengine.WithServers("DB1:5432", "db2:5432"))
	configC := memengine.NewClientConfig("c", memengine.WithServers("db3:5432"))

	// act
	a, _ := manager.Connection(ctx, request(t, "A", configA))
	b, _ := manager.Connection(ctx, request(t, "B", configB))
	c, _ := manager.Connection(ctx, request(t, "C", configC, docstore.WithMaxConcurrentRequests(-1)))

	// assert
	assert.NotSame(t, a.Client(), b.Client())
	assert.Same(t, a.Semaphore(), b.Semaphore(), "clients pointing at the same servers share one budget")
	assert.Equal(t, 5, a.Semaphore().Limit(), "default bound is half the pool size")
	assert.NotSame(t, a.Semaphore(), c.Semaphore())
	assert.Equal(t, 0, c.Semaphore().Limit(), "a negative bound yields the no-op semaphore")
	assert.Equal(t, a.ClusterFingerprint(), b.ClusterFingerprint())
}

func Test_ResourceManager_Connection_ValidatesRequest_BeforeAnyIO(t *testing.T) {
	ctx := context.Background()
	manager, driver := newManager(t)
	config := memengine.NewClientConfig("cluster")
	options, _ := docstore.NewContextOptions("A")

	testCases := []struct {
		name     string
		request  registry.ConnectionRequest
		expected error
	}{
		{
			name:     "nil client config",
			request:  registry.ConnectionRequest{DatabaseName: "library", Options: options},
			expected: docstore.ErrNilClientConfig,
		},
		{
			name:     "empty fingerprint",
			request:  registry.ConnectionRequest{ClientConfig: memengine.NewClientConfig(""), DatabaseName: "library", Options: options},
			expected: docstore.ErrEmptyClientFingerprint,
		},
		{
			name:     "empty database name",
			request:  registry.ConnectionRequest{ClientConfig: config, DatabaseName: " ", Options: options},
			expected: docstore.ErrEmptyDatabaseName,
		},
		{
			name:     "nil options",
			request:  registry.ConnectionRequest{ClientConfig: config, DatabaseName: "library"},
			expected: docstore.ErrNilContextOptions,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.Connection(ctx, tc.request)

			assert.ErrorIs(t, err, tc.expected)
			assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
		})
	}

	assert.Zero(t, driver.Calls(faultdriver.OpConnect))
	assert.Equal(t, registry.Stats{}, manager.Stats())
}

func Test_ResourceManager_Connection_RetriesAfterConnectFailure(t *testing.T) {
	// arrange
	ctx := context.Background()
	manager, driver := newManager(t)
	failure := errors.New("connection refused")
	driver.FailWith(faultdriver.OpConnect, failure)

	// act
	_, err := manager.Connection(ctx, request(t, "A", memengine.NewClientConfig("cluster")))
	driver.Heal(faultdriver.OpConnect)
	connection, retryErr := manager.Connection(ctx, request(t, "A", memengine.NewClientConfig("cluster")))

	// assert
	assert.ErrorIs(t, err, docstore.ErrOperationFailed)
	assert.ErrorIs(t, err, failure)
	require.NoError(t, retryErr)
	assert.NotNil(t, connection.Client())
	assert.Equal(t, 1, manager.Stats().Clients)
}

func Test_NewResourceManager_RejectsNilDriver(t *testing.T) {
	_, err := registry.NewResourceManager(nil)

	assert.ErrorIs(t, err, docstore.ErrNilDriver)
}

func Test_ResourceManager_LogsRegistrations(t *testing.T) {
	// setup
	logHandler := testdoubles.NewLogHandlerSpy(false)
	contextualLogger := testdoubles.NewContextualLoggerSpy(true)
	manager, _ := newManager(t,
		registry.WithLogger(slog.New(logHandler)),
		registry.WithContextualLogger(contextualLogger),
	)

	// act
	_, err := manager.Connection(context.Background(), request(t, "A", memengine.NewClientConfig("cluster")))
	manager.Close()

	// assert
	require.NoError(t, err)
	for _, kind := range []string{registry.KindOptions, registry.KindClient, registry.KindDatabase, registry.KindSemaphore, registry.KindConnection} {
		assert.True(t,
			logHandler.HasInfoLogWithMessage("resource registered").WithAttributeValue("kind", kind).Assert(),
			"missing registration log for %s", kind,
		)
	}
	assert.True(t, logHandler.HasInfoLogWithMessage("resource registered").WithAttributeValue("key", "a").Assert())
	assert.True(t, logHandler.HasInfoLog("resource manager closed"))
	assert.True(t, contextualLogger.HasRecord("info", "resource registered"))
}
