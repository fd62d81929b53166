package registry

import (
	"slices"
	"strings"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

const (
	clusterAddressSeparator = ","
	databaseKeySeparator    = "#"
)

// ClientKey returns the identity key of a client configuration: its serialized settings.
// Two independently constructed configurations with identical settings yield the same key.
func ClientKey(config docstore.ClientConfig) (string, error) {
	if config == nil {
		return "", docstore.ErrNilClientConfig
	}

	fingerprint := config.Fingerprint()
	if strings.TrimSpace(fingerprint) == "" {
		return "", docstore.ErrEmptyClientFingerprint
	}

	return fingerprint, nil
}

// ClusterFingerprint derives the identity key of a cluster from its server addresses.
// Addresses are trimmed and lower-cased, empty ones dropped, duplicates removed and the rest sorted,
// so the order in which a configuration lists its servers does not matter.
func ClusterFingerprint(addresses []string) string {
	normalized := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if address = docstore.NormalizeKey(address); address != "" {
			normalized = append(normalized, address)
		}
	}

	slices.Sort(normalized)

	return strings.Join(slices.Compact(normalized), clusterAddressSeparator)
}

// DatabaseKey returns the identity key of a database handle: the client key combined with the
// case-insensitive database name.
func DatabaseKey(clientKey, databaseName string) (string, error) {
	if strings.TrimSpace(clientKey) == "" {
		return "", docstore.ErrEmptyClientFingerprint
	}

	name := docstore.NormalizeKey(databaseName)
	if name == "" {
		return "", docstore.ErrEmptyDatabaseName
	}

	return clientKey + databaseKeySeparator + name, nil
}
