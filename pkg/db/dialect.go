package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector. A Supabase connection string in URL takes
// precedence over the discrete postgres fields.
func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "mysql":
		if cfg.URL != "" {
			return mysql.Open(cfg.URL), nil
		}
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case "postgres", "supabase":
		if cfg.URL != "" {
			// Supabase's transaction pooler rejects prepared statements.
			return postgres.New(postgres.Config{DSN: cfg.URL, PreferSimpleProtocol: true}), nil
		}
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case "sqlite":
		path := cfg.URL
		if path == "" {
			path = "praxis.db"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

// IsPostgres reports whether the dialect runs golang-migrate migrations.
func IsPostgres(cfg Config) bool {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "postgres", "supabase":
		return true
	default:
		return false
	}
}
