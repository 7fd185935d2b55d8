// Package dbconfig provides source database connection settings and DSN
// construction. It is separate from the config package so the source
// package can depend on it without importing the full application config.
package dbconfig

import (
	"fmt"
	"net/url"
)

// Supported source database types.
const (
	TypeMSSQL    = "mssql"
	TypePostgres = "postgres"
)

// SourceConfig holds source database connection settings.
type SourceConfig struct {
	Type            string `yaml:"type"` // "mssql" or "postgres" (default: mssql)
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Schema          string `yaml:"schema"`
	SSLMode         string `yaml:"ssl_mode"`          // PostgreSQL: disable, require, verify-ca, verify-full
	TrustServerCert bool   `yaml:"trust_server_cert"` // MSSQL: trust server certificate
	Encrypt         *bool  `yaml:"encrypt"`           // MSSQL: enable TLS encryption (default: true)
}

// ApplyDefaults fills in database-type specific defaults.
func (c *SourceConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = TypeMSSQL
	}
	switch c.Type {
	case TypeMSSQL:
		if c.Port == 0 {
			c.Port = 1433
		}
		if c.Schema == "" {
			c.Schema = "dbo"
		}
	case TypePostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.Schema == "" {
			c.Schema = "public"
		}
		if c.SSLMode == "" {
			c.SSLMode = "require"
		}
	}
}

// Validate checks that the configuration can produce a usable DSN.
func (c *SourceConfig) Validate() error {
	switch c.Type {
	case TypeMSSQL, TypePostgres:
	default:
		return fmt.Errorf("unsupported source type %q", c.Type)
	}
	if c.Host == "" {
		return fmt.Errorf("source host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("source database is required")
	}
	return nil
}

// DSN builds the connection string for the configured database type.
// User-supplied credentials are URL-escaped so special characters cannot
// corrupt the DSN.
func (c *SourceConfig) DSN() string {
	switch c.Type {
	case TypePostgres:
		return c.postgresDSN()
	default:
		return c.mssqlDSN()
	}
}

// DriverName returns the database/sql driver name for this source type.
func (c *SourceConfig) DriverName() string {
	if c.Type == TypePostgres {
		return "pgx"
	}
	return "sqlserver"
}

func (c *SourceConfig) mssqlDSN() string {
	q := url.Values{}
	q.Set("database", c.Database)
	encrypt := "true"
	if c.Encrypt != nil && !*c.Encrypt {
		encrypt = "false"
	}
	q.Set("encrypt", encrypt)
	if c.TrustServerCert {
		q.Set("trustServerCertificate", "true")
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c *SourceConfig) postgresDSN() string {
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
