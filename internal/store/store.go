// Package store provides the state backends of LeadPipe.
//
// It holds the per-user session stores, the inbound deduplication ledger and the
// durable archive that keeps submissions the task board refused.
package store

import (
	"strings"
)

// Opts holds configuration options for the store constructors.
type Opts struct {
	DSN          string
	SessionTTL   int // seconds, only used by the bigcache backend
	DefaultLang  string
	LedgerLimit  int
	EvictPercent int
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithFilePath sets the path of the plain-text archive.
func WithFilePath(path string) Option {
	return func(o *Opts) { o.DSN = path }
}

// WithSessionTTL sets how long an idle session survives in the cache backend, in seconds.
func WithSessionTTL(seconds int) Option {
	return func(o *Opts) { o.SessionTTL = seconds }
}

// WithDefaultLanguage sets the language assigned to freshly created sessions.
func WithDefaultLanguage(lang string) Option {
	return func(o *Opts) { o.DefaultLang = lang }
}

// WithLedgerCapacity sets the number of entries the dedup ledger keeps before evicting.
func WithLedgerCapacity(n int) Option {
	return func(o *Opts) { o.LedgerLimit = n }
}

// WithEvictPercent sets the share of the ledger capacity evicted when it overflows.
func WithEvictPercent(p int) Option {
	return func(o *Opts) { o.EvictPercent = p }
}

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
	DSNTypeFile     = "file"
)

// DetectDSNType classifies a connection string. Postgres URLs and key=value DSNs are
// "postgres", paths ending in .txt or .log are a plain "file" archive, everything else is SQLite.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DSNTypePostgres
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".log"):
		return DSNTypeFile
	default:
		return DSNTypeSQLite
	}
}
