package postgresengine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// AdapterType selects the database library a Client is built on.
type AdapterType string

const (
	AdapterPGX  AdapterType = "pgx"
	AdapterSQL  AdapterType = "sql"
	AdapterSQLX AdapterType = "sqlx"
)

// ParseAdapterType maps "pgx", "sql" and "sqlx" (case-insensitive) to an AdapterType.
func ParseAdapterType(s string) (AdapterType, error) {
	switch adapter := AdapterType(strings.ToLower(strings.TrimSpace(s))); adapter {
	case AdapterPGX, AdapterSQL, AdapterSQLX:
		return adapter, nil
	default:
		return "", fmt.Errorf("%w: %q", docstore.ErrUnsupportedAdapterType, s)
	}
}

const (
	defaultKeepAlive     = 5 * time.Minute
	defaultConnectTimout = 10 * time.Second
)

var ErrInvalidDSN = fmt.Errorf("%w: invalid postgres connection string", docstore.ErrInvalidArgument)

// ClientConfig holds the parsed connection settings of a PostgreSQL cluster.
// It is immutable after NewClientConfig returns.
type ClientConfig struct {
	dsn         string
	pool        *pgxpool.Config
	adapter     AdapterType
	maxPoolSize int
	keepAlive   time.Duration
}

// ClientConfigOption defines a functional option for configuring ClientConfig.
type ClientConfigOption func(*ClientConfig) error

// WithAdapter selects the database library. Defaults to AdapterPGX.
func WithAdapter(adapter AdapterType) ClientConfigOption {
	return func(c *ClientConfig) error {
		parsed, err := ParseAdapterType(string(adapter))
		if err != nil {
			return err
		}

		c.adapter = parsed

		return nil
	}
}

// WithMaxPoolSize sets the maximum number of open connections.
// Defaults to pool_max_conns from the DSN or the pgxpool default.
func WithMaxPoolSize(size int) ClientConfigOption {
	return func(c *ClientConfig) error {
		if size <= 0 {
			return fmt.Errorf("%w: max pool size must be positive, got %d", docstore.ErrInvalidArgument, size)
		}

		c.maxPoolSize = size

		return nil
	}
}

// WithKeepAlive sets the TCP keep-alive period of new connections. Defaults to 5 minutes.
func WithKeepAlive(interval time.Duration) ClientConfigOption {
	return func(c *ClientConfig) error {
		if interval < 0 {
			return fmt.Errorf("%w: negative keep-alive interval", docstore.ErrInvalidArgument)
		}

		c.keepAlive = interval

		return nil
	}
}

// NewClientConfig parses dsn with pgxpool.ParseConfig and applies the options.
//
// The sql and sqlx adapters hand the same dsn to lib/pq, so it must not contain pgx-only parameters
// like pool_max_conns when one of them is selected.
func NewClientConfig(dsn string, options ...ClientConfigOption) (ClientConfig, error) {
	pool, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return ClientConfig{}, errors.Join(ErrInvalidDSN, err)
	}

	c := ClientConfig{
		dsn:         dsn,
		pool:        pool,
		adapter:     AdapterPGX,
		maxPoolSize: int(pool.MaxConns),
		keepAlive:   defaultKeepAlive,
	}

	for _, option := range options {
		if err := option(&c); err != nil {
			return ClientConfig{}, err
		}
	}

	return c, nil
}

// Adapter returns the selected database library.
func (c ClientConfig) Adapter() AdapterType {
	return c.adapter
}

// Database returns the database name from the DSN.
func (c ClientConfig) Database() string {
	if c.pool == nil {
		return ""
	}

	return c.pool.ConnConfig.Database
}

// MaxPoolSize returns the maximum number of open connections.
func (c ClientConfig) MaxPoolSize() int {
	return c.maxPoolSize
}

// KeepAlive returns the TCP keep-alive period.
func (c ClientConfig) KeepAlive() time.Duration {
	return c.keepAlive
}

// ServerAddresses returns the host:port of the primary server followed by its fallbacks.
func (c ClientConfig) ServerAddresses() []string {
	if c.pool == nil {
		return nil
	}

	cc := c.pool.ConnConfig
	addresses := []string{hostPort(cc.Host, cc.Port)}

	for _, fallback := range cc.Fallbacks {
		addresses = append(addresses, hostPort(fallback.Host, fallback.Port))
	}

	return slices.Compact(addresses)
}

// Fingerprint serializes adapter, servers, database, user, password digest, pool size, keep-alive and
// runtime parameters in a stable order. The password itself never appears in it.
func (c ClientConfig) Fingerprint() string {
	if c.pool == nil {
		return ""
	}

	cc := c.pool.ConnConfig

	servers := slices.Clone(c.ServerAddresses())
	slices.Sort(servers)

	params := make([]string, 0, len(cc.RuntimeParams))
	for key, value := range cc.RuntimeParams {
		params = append(params, key+"="+value)
	}
	slices.Sort(params)

	parts := []string{
		"adapter=" + string(c.adapter),
		"servers=" + strings.Join(servers, ","),
		"database=" + cc.Database,
		"user=" + cc.User,
		"password=" + passwordDigest(cc.Password),
		"pool=" + strconv.Itoa(c.maxPoolSize),
		"keepalive=" + c.keepAlive.String(),
		"params=" + strings.Join(params, "&"),
	}

	return "postgres://" + strings.Join(parts, ";")
}

// poolConfig returns a copy of the parsed pool config with pool size and keep-alive applied.
func (c ClientConfig) poolConfig() *pgxpool.Config {
	pool := c.pool.Copy()
	pool.MaxConns = int32(min(c.maxPoolSize, 1<<31-1)) //nolint:gosec // bounded above
	pool.ConnConfig.DialFunc = c.dialer().DialContext

	return pool
}

func (c ClientConfig) dialer() *net.Dialer {
	timeout := c.pool.ConnConfig.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimout
	}

	return &net.Dialer{Timeout: timeout, KeepAlive: c.keepAlive}
}

func hostPort(host string, port uint16) string {
	if strings.HasPrefix(host, "/") {
		return strings.ToLower(host)
	}

	return strings.ToLower(net.JoinHostPort(host, strconv.Itoa(int(port))))
}

func passwordDigest(password string) string {
	if password == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(password))

	return hex.EncodeToString(sum[:])
}
