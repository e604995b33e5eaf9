package config

import "fmt"

// DSN returns the database/sql-style connection string DatabaseConfig
// describes, used by the migrate CLI (which speaks database/sql, not pgx)
// and by anything else that needs a single connection string rather than a
// pgxpool.Config.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}
