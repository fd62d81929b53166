package memengine

import (
	"fmt"
	"slices"
	"strings"
)

const defaultMaxPoolSize = 8

// ClientConfig identifies an in-memory store by name.
// Clients connected with configs of the same name and the same Driver share one store.
type ClientConfig struct {
	name        string
	servers     []string
	maxPoolSize int
}

// ClientConfigOption defines a functional option for configuring ClientConfig.
type ClientConfigOption func(*ClientConfig)

// WithServers sets the server addresses reported to the admission-control registry.
// Defaults to a single address derived from the store name.
func WithServers(servers ...string) ClientConfigOption {
	return func(c *ClientConfig) {
		c.servers = slices.Clone(servers)
	}
}

// WithMaxPoolSize sets the pool size reported to the admission-control registry.
func WithMaxPoolSize(size int) ClientConfigOption {
	return func(c *ClientConfig) {
		c.maxPoolSize = size
	}
}

// NewClientConfig creates a ClientConfig for the store with the given name.
func NewClientConfig(name string, options ...ClientConfigOption) ClientConfig {
	c := ClientConfig{
		name:        strings.TrimSpace(name),
		maxPoolSize: defaultMaxPoolSize,
	}

	for _, option := range options {
		option(&c)
	}

	return c
}

// Name returns the store name.
func (c ClientConfig) Name() string {
	return c.name
}

// Fingerprint returns the serialized settings. An empty name yields an empty fingerprint.
func (c ClientConfig) Fingerprint() string {
	if c.name == "" {
		return ""
	}

	servers := slices.Clone(c.ServerAddresses())
	slices.Sort(servers)

	return fmt.Sprintf("memory://%s?pool=%d&servers=%s", c.name, c.maxPoolSize, strings.Join(servers, ","))
}

// ServerAddresses returns the configured servers or the single address memory://<name>.
func (c ClientConfig) ServerAddresses() []string {
	if len(c.servers) > 0 {
		return c.servers
	}

	return []string{"memory://" + c.name}
}

// MaxPoolSize returns the configured pool size.
func (c ClientConfig) MaxPoolSize() int {
	return c.maxPoolSize
}
