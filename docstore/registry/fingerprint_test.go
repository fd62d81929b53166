package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/memengine"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/registry"
)

func Test_ClientKey(t *testing.T) {
	key, err := registry.ClientKey(memengine.NewClientConfig("library", memengine.WithMaxPoolSize(4)))
	assert.NoError(t, err)
	assert.Equal(t, "memory://library?pool=4&servers=memory://library", key)

	_, err = registry.ClientKey(nil)
	assert.ErrorIs(t, err, docstore.ErrNilClientConfig)

	_, err = registry.ClientKey(memengine.NewClientConfig("  "))
	assert.ErrorIs(t, err, docstore.ErrEmptyClientFingerprint)
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func Test_ClusterFingerprint_IsIndependentOfOrderCaseAndDuplicates(t *testing.T) {
	first := registry.ClusterFingerprint([]string{"db2:5432", "DB1:5432", " db1:5432 ", ""})
	second := registry.ClusterFingerprint([]string{"db1:5432", "db2:5432"})
	other := registry.ClusterFingerprint([]string{"db1:5432", "db3:5432"})

	assert.Equal(t, "db1:5432,db2:5432", first)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Empty(t, registry.ClusterFingerprint(nil))
}

func Test_DatabaseKey(t *testing.T) {
	key, err := registry.DatabaseKey("client", " Library ")
	assert.NoError(t, err)

	sameKey, _ := registry.DatabaseKey("client", "library")
	otherClientKey, _ := registry.DatabaseKey("other", "library")

	assert.Equal(t, key, sameKey)
	assert.NotEqual(t, key, otherClientKey)

	_, err = registry.DatabaseKey("client", " ")
	assert.ErrorIs(t, err, docstore.ErrEmptyDatabaseName)

	_, err = registry.DatabaseKey("", "library")
	assert.ErrorIs(t, err, docstore.ErrEmptyClientFingerprint)
}
