// Package config loads the settings of a docstore context from flags, environment variables and .env files.
//
// Precedence is flag, then environment variable, then .env file, then default.
// Environment variables carry the DOCSTORE_ prefix and use underscores for dashes,
// e.g. --max-concurrent is read from DOCSTORE_MAX_CONCURRENT.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/memengine"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/postgresengine"
)

const EnvPrefix = "DOCSTORE"

// Flag and configuration keys.
const (
	KeyDSN           = "dsn"
	KeyDatabase      = "database"
	KeyContextID     = "context-id"
	KeyDeferred      = "deferred"
	KeyMaxConcurrent = "max-concurrent"
	KeyKeepAlive     = "keep-alive"
	KeyAdapter       = "adapter"
	KeyLogLevel      = "log-level"
)

const (
	defaultDatabase  = "docstore"
	defaultContextID = "default"
	defaultKeepAlive = 5 * time.Minute
	defaultLogLevel  = "info"
	redactedDSN      = "<redacted>"
	notSet           = "<not set>"
)

var defaultEnvFiles = []string{".env.local", ".env"}

// Settings are the resolved settings of one docstore context.
type Settings struct {
	DSN                    string
	Database               string
	ContextID              string
	AcceptAllChangesOnSave bool
	MaxConcurrentRequests  int
	KeepAlive              time.Duration
	Adapter                postgresengine.AdapterType
	LogLevel               slog.Level
}

// Init loads the env files into the process environment and makes v read DOCSTORE_ variables.
// Variables already set in the environment are not overwritten, and earlier files win over later ones.
// Without files, .env.local and .env of the working directory are loaded if present.
func Init(v *viper.Viper, envFiles ...string) {
	if len(envFiles) == 0 {
		envFiles = defaultEnvFiles
	}

	for _, file := range envFiles {
		_ = godotenv.Load(file) // missing files are fine
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// BindFlags defines the settings flags on cmd and binds them to v.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	defineFlags(flags)

	return v.BindPFlags(flags)
}

func defineFlags(flags *pflag.FlagSet) {
	flags.String(KeyDSN, "", "PostgreSQL connection string, the in-memory engine is used when empty")
	flags.String(KeyDatabase, defaultDatabase, "Database name, a PostgreSQL schema")
	flags.String(KeyContextID, defaultContextID, "Context id the options are registered under")
	flags.Bool(KeyDeferred, true, "Buffer writes until SaveChanges")
	flags.Int(KeyMaxConcurrent, 0, "Concurrent requests per cluster, 0 derives it from the pool size, negative is unbounded")
	flags.Duration(KeyKeepAlive, defaultKeepAlive, "TCP keep-alive interval of database connections")
	flags.String(KeyAdapter, string(postgresengine.AdapterPGX), "PostgreSQL adapter: pgx, sql or sqlx")
	flags.String(KeyLogLevel, defaultLogLevel, "Log level: debug, info, warn or error")
}

// FromViper builds validated Settings from v.
func FromViper(v *viper.Viper) (Settings, error) {
	adapter, err := postgresengine.ParseAdapterType(v.GetString(KeyAdapter))
	if err != nil {
		return Settings{}, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return Settings{}, fmt.Errorf("%w: log level %q", docstore.ErrInvalidArgument, v.GetString(KeyLogLevel))
	}

	settings := Settings{
		DSN:                    strings.TrimSpace(v.GetString(KeyDSN)),
		Database:               strings.TrimSpace(v.GetString(KeyDatabase)),
		ContextID:              strings.TrimSpace(v.GetString(KeyContextID)),
		AcceptAllChangesOnSave: v.GetBool(KeyDeferred),
		MaxConcurrentRequests:  v.GetInt(KeyMaxConcurrent),
		KeepAlive:              v.GetDuration(KeyKeepAlive),
		Adapter:                adapter,
		LogLevel:               level,
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

// Validate reports the first invalid setting.
func (s Settings) Validate() error {
	switch {
	case s.Database == "":
		return docstore.ErrEmptyDatabaseName
	case s.ContextID == "":
		return docstore.ErrEmptyContextID
	case s.KeepAlive < 0:
		return fmt.Errorf("%w: negative keep-alive %s", docstore.ErrInvalidArgument, s.KeepAlive)
	}

	return nil
}

// UsesPostgres reports whether a DSN is configured.
func (s Settings) UsesPostgres() bool {
	return s.DSN != ""
}

// ContextOptions builds the options of the configured context.
func (s Settings) ContextOptions() (*docstore.ContextOptions, error) {
	return docstore.NewContextOptions(s.ContextID,
		docstore.WithAcceptAllChangesOnSave(s.AcceptAllChangesOnSave),
		docstore.WithMaxConcurrentRequests(s.MaxConcurrentRequests),
	)
}

// ClientConfig returns a PostgreSQL config when a DSN is set and an in-memory config named after the database otherwise.
func (s Settings) ClientConfig() (docstore.ClientConfig, error) {
	if !s.UsesPostgres() {
		return memengine.NewClientConfig(s.Database), nil
	}

	config, err := postgresengine.NewClientConfig(s.DSN,
		postgresengine.WithAdapter(s.Adapter),
		postgresengine.WithKeepAlive(s.KeepAlive),
	)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// String returns a formatted representation of the settings. The DSN password is redacted.
func (s Settings) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(strings.ToUpper(title) + "\n")
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-26s: %s\n", name, value))
	}

	maxConcurrent := strconv.Itoa(s.MaxConcurrentRequests)
	switch {
	case s.MaxConcurrentRequests == 0:
		maxConcurrent = "derived from pool size"
	case s.MaxConcurrentRequests < 0:
		maxConcurrent = "unbounded"
	}

	addSection("Connection")
	if s.UsesPostgres() {
		addField("Engine", "postgres")
		addField("DSN", redactDSN(s.DSN))
		addField("Adapter", string(s.Adapter))
	} else {
		addField("Engine", "memory")
		addField("DSN", notSet)
	}
	addField("Database", s.Database)
	addField("Keep Alive", s.KeepAlive.String())

	addSection("Context")
	addField("Context ID", s.ContextID)
	addField("Accept All Changes On Save", strconv.FormatBool(s.AcceptAllChangesOnSave))
	addField("Max Concurrent Requests", maxConcurrent)
	addField("Log Level", s.LogLevel.String())

	return sb.String()
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redactedDSN
	}

	return u.Redacted()
}
