// Package database opens the default database described by the resolved
// settings.
package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eugenenazirov/sitekit/internal/config"
)

const slowQueryThreshold = 200 * time.Millisecond

// Open connects to the database and applies the connection reuse limit.
func Open(desc config.Database, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(desc)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", desc.Engine, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get raw DB connection: %w", err)
	}
	if desc.ConnMaxAge > 0 {
		sqlDB.SetConnMaxLifetime(desc.ConnMaxAge)
	}
	// Every new connection to :memory: opens a fresh, empty database.
	if desc.Engine == config.EngineSQLite && desc.Name == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Dialector selects the gorm driver for the configured engine.
func Dialector(desc config.Database) (gorm.Dialector, error) {
	switch desc.Engine {
	case config.EnginePostgres:
		return postgres.Open(PostgresDSN(desc)), nil
	case config.EngineMySQL:
		return mysql.Open(MySQLDSN(desc)), nil
	case config.EngineSQLite:
		return sqlite.Open(desc.Name), nil
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", desc.Engine)
	}
}

// PostgresDSN renders the descriptor as a postgres:// connection URL.
func PostgresDSN(desc config.Database) string {
	host := desc.Host
	if desc.Port != 0 {
		host = net.JoinHostPort(desc.Host, strconv.Itoa(desc.Port))
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + desc.Name,
	}
	if desc.User != "" {
		if desc.Password != "" {
			u.User = url.UserPassword(desc.User, desc.Password)
		} else {
			u.User = url.User(desc.User)
		}
	}

	query := url.Values{}
	for k, v := range desc.Options {
		query.Set(k, v)
	}
	if desc.SSLRequire {
		switch query.Get("sslmode") {
		case "require", "verify-ca", "verify-full":
		default:
			query.Set("sslmode", "require")
		}
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// MySQLDSN renders the descriptor in go-sql-driver format.
func MySQLDSN(desc config.Database) string {
	port := desc.Port
	if port == 0 {
		port = 3306
	}

	cfg := mysqldriver.NewConfig()
	cfg.User = desc.User
	cfg.Passwd = desc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(desc.Host, strconv.Itoa(port))
	cfg.DBName = desc.Name
	cfg.ParseTime = true
	if desc.SSLRequire {
		cfg.TLSConfig = "true"
	}
	if len(desc.Options) > 0 {
		cfg.Params = make(map[string]string, len(desc.Options))
		for k, v := range desc.Options {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

// Close closes the database connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	return gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
